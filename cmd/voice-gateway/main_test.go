package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/agents"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-phone/pkg/gateway/server"
)

func testGatewayConfig() config.Config {
	return config.Config{
		Addr:                "127.0.0.1:0",
		STTProvider:         config.STTProviderDeepgram,
		DeepgramAPIKey:      "dg-test",
		TTSProvider:         config.TTSProviderElevenLabs,
		ElevenLabsAPIKey:    "el-test",
		DefaultVoiceID:      "voice-1",
		OpenAIAPIKey:        "sk-test",
		DefaultModel:        "gpt-4o-mini",
		MaxCompletionTokens: 200,
		PlaybackWaitMax:     time.Second,
		WSWriteTimeout:      time.Second,
		WSPingInterval:      time.Minute,
		MaxMessageBytes:     64 * 1024,
		ReadHeaderTimeout:   time.Second,
		ProviderTimeout:     time.Second,
		ShutdownGracePeriod: time.Second,
	}
}

func stubBackends(context.Context, config.Config, *slog.Logger) (gatewayserver.Backends, func(), error) {
	return gatewayserver.Backends{
		Agents: agents.LoaderFunc(func(context.Context, string) (*agents.Snapshot, error) {
			return nil, agents.ErrAgentNotFound
		}),
	}, nil, nil
}

func noSignals() (func(chan<- os.Signal, ...os.Signal), func(chan<- os.Signal)) {
	return func(c chan<- os.Signal, sig ...os.Signal) {}, func(c chan<- os.Signal) {}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	notify, stop := noSignals()
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), nil, &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openBackends: func(context.Context, config.Config, *slog.Logger) (gatewayserver.Backends, func(), error) {
			t.Fatalf("openBackends should not be called when config load fails")
			return gatewayserver.Backends{}, nil, nil
		},
		newGateway:   gatewayserver.New,
		signalNotify: notify,
		signalStop:   stop,
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Fatalf("stderr=%q, want config error", stderr.String())
	}
}

func TestRunMain_UnknownCommand(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"dance"}, &stderr, defaultGatewayDeps()); code != 2 {
		t.Fatalf("exitCode=%d, want 2", code)
	}
}

func TestRunMain_MigrateCommand(t *testing.T) {
	t.Setenv("VOICE_DATABASE_URL", "postgres://localhost/voice_test")

	var gotURL string
	deps := defaultGatewayDeps()
	deps.migrate = func(_ context.Context, url string, _ *slog.Logger) error {
		gotURL = url
		return nil
	}
	deps.loadConfig = func() (config.Config, error) {
		t.Fatalf("migrate should not load the full config")
		return config.Config{}, nil
	}

	if code := runMain(context.Background(), []string{"migrate"}, io.Discard, deps); code != 0 {
		t.Fatalf("exitCode=%d, want 0", code)
	}
	if gotURL != "postgres://localhost/voice_test" {
		t.Fatalf("migrate url=%q", gotURL)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}

func TestRunGateway_ShutsDownOnContextCancel(t *testing.T) {
	t.Parallel()

	notify, stop := noSignals()
	var closed atomic.Bool
	deps := gatewayDeps{
		loadConfig: func() (config.Config, error) { return testGatewayConfig(), nil },
		openBackends: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Backends, func(), error) {
			b, _, err := stubBackends(ctx, cfg, logger)
			return b, func() { closed.Store(true) }, err
		},
		newGateway:   gatewayserver.New,
		signalNotify: notify,
		signalStop:   stop,
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runGateway(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), deps)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runGateway() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runGateway did not return after cancel")
	}
	if !closed.Load() {
		t.Fatalf("expected backends to be closed")
	}
}

func TestRunGateway_StoreFailure(t *testing.T) {
	t.Parallel()

	notify, stop := noSignals()
	err := runGateway(context.Background(), nil, gatewayDeps{
		loadConfig: func() (config.Config, error) { return testGatewayConfig(), nil },
		openBackends: func(context.Context, config.Config, *slog.Logger) (gatewayserver.Backends, func(), error) {
			return gatewayserver.Backends{}, nil, errors.New("connection refused")
		},
		newGateway:   gatewayserver.New,
		signalNotify: notify,
		signalStop:   stop,
	})
	if err == nil || !strings.Contains(err.Error(), "open store") {
		t.Fatalf("err=%v, want open store error", err)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backends, _, _ := stubBackends(context.Background(), testGatewayConfig(), logger)
	gw, err := gatewayserver.New(context.Background(), testGatewayConfig(), logger, backends)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}
