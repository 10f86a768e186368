package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vango-go/vai-phone/internal/dotenv"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-phone/pkg/gateway/server"
	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

// finalizeWait bounds how long canceled sessions get to persist their final
// record before the pool closes.
const finalizeWait = 5 * time.Second

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openBackends func(context.Context, config.Config, *slog.Logger) (gatewayserver.Backends, func(), error)
	newGateway   func(context.Context, config.Config, *slog.Logger, gatewayserver.Backends) (*gatewayserver.Server, error)
	migrate      func(ctx context.Context, databaseURL string, logger *slog.Logger) error
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:   config.LoadFromEnv,
		openBackends: openStoreBackends,
		newGateway:   gatewayserver.New,
		migrate:      migrateDatabase,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStoreBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Backends, func(), error) {
	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return gatewayserver.Backends{}, nil, err
	}
	if cfg.DBAutoMigrate {
		if err := store.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return gatewayserver.Backends{}, nil, err
		}
	}

	st := store.New(pool, store.Options{KnowledgeLimit: cfg.KnowledgeLimit, Logger: logger})
	swept, err := st.SweepStale(ctx)
	if err != nil {
		pool.Close()
		return gatewayserver.Backends{}, nil, err
	}
	if swept > 0 {
		logger.Warn("marked stale calls failed", "count", swept)
	}

	return gatewayserver.Backends{
		Agents:   st,
		Recorder: st.CallRecords(),
		Store:    st,
	}, pool.Close, nil
}

func migrateDatabase(ctx context.Context, databaseURL string, logger *slog.Logger) error {
	if strings.TrimSpace(databaseURL) == "" {
		return errors.New("VOICE_DATABASE_URL must be set")
	}
	pool, err := store.Open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return store.Migrate(ctx, pool, logger)
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openBackends == nil || deps.newGateway == nil {
		return errors.New("missing gateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backends, closeBackends, err := deps.openBackends(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closeBackends != nil {
		defer closeBackends()
	}

	gw, err := deps.newGateway(ctx, cfg, logger, backends)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voice gateway",
		"addr", cfg.Addr,
		"stt_provider", cfg.STTProvider,
		"tts_provider", cfg.TTSProvider,
		"default_model", cfg.DefaultModel,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.Lifecycle().SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Media streams are hijacked connections, so Shutdown does not wait for
	// them. Let active calls finish inside the grace period, then end them.
	reg := gw.Registry()
	if !reg.Wait(shutdownCtx) {
		canceled := reg.CancelAll()
		logger.Warn("grace period elapsed, ending active calls", "count", canceled)
		finalizeCtx, finalizeCancel := context.WithTimeout(context.Background(), finalizeWait)
		reg.Wait(finalizeCtx)
		finalizeCancel()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice gateway stopped")
	return nil
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voice-gateway: %v\n", err)
		return 1
	}
	logger := newLogger(stderr, os.Getenv("VOICE_LOG_FORMAT"), os.Getenv("VOICE_LOG_LEVEL"))

	if len(args) > 0 {
		switch args[0] {
		case "migrate":
			if deps.migrate == nil {
				fmt.Fprintln(stderr, "voice-gateway: missing migrate dependency")
				return 1
			}
			if err := deps.migrate(ctx, os.Getenv("VOICE_DATABASE_URL"), logger); err != nil {
				fmt.Fprintf(stderr, "voice-gateway: migrate: %v\n", err)
				return 1
			}
			return 0
		case "serve":
		default:
			fmt.Fprintf(stderr, "voice-gateway: unknown command %q (want serve or migrate)\n", args[0])
			return 2
		}
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voice-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stderr, defaultGatewayDeps()))
}
