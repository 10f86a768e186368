package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-phone/pkg/core"
)

func TestRecover_PanicReturnsEnvelopeWithRequestID(t *testing.T) {
	h := RequestID(Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil snapshot")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/media-stream", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrAPI {
		t.Fatalf("type=%q, want %q", env.Error.Type, core.ErrAPI)
	}
	if env.Error.RequestID == "" || env.Error.RequestID != rr.Header().Get("X-Request-ID") {
		t.Fatalf("request_id=%q, header=%q", env.Error.RequestID, rr.Header().Get("X-Request-ID"))
	}
}

func TestRecover_RepanicsAbortHandler(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("recovered=%v, want http.ErrAbortHandler", v)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
}
