package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("GET", "/health", 200, time.Millisecond)
	m.RecordCallStart()
	m.RecordCallEnd("completed", time.Second)
	m.RecordRejected("missing_params")
	m.RecordTurn("reply", time.Second)
	m.RecordFallback("completion")
	m.RecordTransfer(true)
	m.RecordDroppedTranscript()
	m.RecordProviderError("deepgram")
	m.RecordAudio("in", 160)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}

func TestMetrics_Records(t *testing.T) {
	m := New("test")
	m.RecordCallStart()
	m.RecordCallStart()
	m.RecordCallEnd("transferred", 30*time.Second)
	m.RecordTurn("fallback", 2*time.Second)
	m.RecordFallback("completion")
	m.RecordTransfer(false)
	m.RecordDroppedTranscript()

	if got := testutil.ToFloat64(m.CallsActive); got != 1 {
		t.Fatalf("calls_active=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("transferred")); got != 1 {
		t.Fatalf("calls_total{transferred}=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("completion")); got != 1 {
		t.Fatalf("fallbacks_total{completion}=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TransfersTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("transfers_total{error}=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DroppedTranscripts); got != 1 {
		t.Fatalf("dropped_transcripts_total=%v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.RecordTurn("reply", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `test_turns_total{outcome="reply"} 1`) {
		t.Fatalf("metrics output missing turns counter:\n%s", body)
	}
}
