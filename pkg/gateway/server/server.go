package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/agents"
	"github.com/vango-go/vai-phone/pkg/core/completion"
	"github.com/vango-go/vai-phone/pkg/core/telephony"
	"github.com/vango-go/vai-phone/pkg/core/voice"
	"github.com/vango-go/vai-phone/pkg/core/voice/stt"
	"github.com/vango-go/vai-phone/pkg/core/voice/tts"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/callrecord"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/registry"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/session"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/handlers"
	"github.com/vango-go/vai-phone/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
	"github.com/vango-go/vai-phone/pkg/gateway/mw"
)

// Backends are the collaborators the server cannot build from config alone.
// Nil provider fields are constructed from config.
type Backends struct {
	Agents   agents.Loader
	Recorder callrecord.Recorder
	Store    handlers.Pinger

	Transcribe  session.TranscriberFunc
	Completer   completion.Completer
	Synthesizer session.Synthesizer
	Calls       session.CallController
}

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	registry  *registry.Registry
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle

	httpClient *http.Client
	backends   Backends
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, b Backends) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if b.Agents == nil {
		return nil, fmt.Errorf("agent loader is required")
	}

	httpClient := &http.Client{
		Timeout: cfg.ProviderTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		registry:   registry.New(),
		metrics:    metrics.New(""),
		lifecycle:  lifecycle.New(time.Now()),
		httpClient: httpClient,
		backends:   b,
	}
	if err := s.buildProviders(ctx); err != nil {
		return nil, err
	}

	s.routes()
	return s, nil
}

func (s *Server) buildProviders(ctx context.Context) error {
	if s.backends.Transcribe == nil || s.backends.Synthesizer == nil {
		pipeline := voice.NewPipeline(voice.PipelineConfig{
			STT: s.newSTTProvider(),
			TTS: s.newTTSProvider(),
			STTOptions: stt.StreamOptions{
				Model:       s.sttModel(),
				Language:    s.cfg.STTLanguage,
				Endpointing: s.cfg.STTEndpointing,
			},
			DefaultVoice: s.cfg.DefaultVoiceID,
			Logger:       s.logger,
		})
		if s.backends.Transcribe == nil {
			s.backends.Transcribe = pipelineTranscriber(pipeline)
		}
		if s.backends.Synthesizer == nil {
			s.backends.Synthesizer = pipeline
		}
	}

	if s.backends.Completer == nil {
		var openai, gemini completion.Completer
		if s.cfg.OpenAIAPIKey != "" {
			openai = completion.NewOpenAI(s.cfg.OpenAIAPIKey,
				completion.WithBaseURL(s.cfg.OpenAIBaseURL),
				completion.WithHTTPClient(s.httpClient),
			)
		}
		if s.cfg.GeminiAPIKey != "" {
			g, err := completion.NewGemini(ctx, completion.GeminiConfig{
				APIKey:     s.cfg.GeminiAPIKey,
				HTTPClient: s.httpClient,
			})
			if err != nil {
				return err
			}
			gemini = g
		}
		s.backends.Completer = completion.NewRouter(s.cfg.DefaultModel, openai, gemini)
	}

	if s.backends.Calls == nil {
		if !s.cfg.TwilioConfigured() {
			s.logger.Warn("twilio credentials not configured; transfers and hangups will fail")
		}
		s.backends.Calls = telephony.NewTwilio(telephony.TwilioConfig{
			AccountSID: s.cfg.TwilioAccountSID,
			AuthToken:  s.cfg.TwilioAuthToken,
			BaseURL:    s.cfg.TwilioBaseURL,
			HTTPClient: s.httpClient,
		})
	}
	return nil
}

func (s *Server) newSTTProvider() stt.Provider {
	switch s.cfg.STTProvider {
	case config.STTProviderCartesia:
		return stt.NewCartesia(s.cfg.CartesiaAPIKey)
	default:
		return stt.NewDeepgram(s.cfg.DeepgramAPIKey)
	}
}

func (s *Server) sttModel() string {
	if s.cfg.STTProvider == config.STTProviderDeepgram {
		return s.cfg.DeepgramModel
	}
	return ""
}

func (s *Server) newTTSProvider() tts.Provider {
	switch s.cfg.TTSProvider {
	case config.TTSProviderCartesia:
		return tts.NewCartesiaWithClient(s.cfg.CartesiaAPIKey, s.httpClient)
	default:
		return tts.NewElevenLabsWithClient(s.cfg.ElevenLabsAPIKey, s.httpClient)
	}
}

// pipelineTranscriber adapts the pipeline so a failed dial never hands the
// session a typed-nil Transcriber.
func pipelineTranscriber(p *voice.Pipeline) session.TranscriberFunc {
	return func(ctx context.Context, h stt.Handlers) (session.Transcriber, error) {
		b, err := p.OpenTranscriber(ctx, h)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (s *Server) routes() {
	s.mux.Handle("GET /health", handlers.HealthHandler{Registry: s.registry, Lifecycle: s.lifecycle})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle, Store: s.backends.Store})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("/media-stream", handlers.MediaStreamHandler{
		Config:      s.cfg,
		Logger:      s.logger,
		Lifecycle:   s.lifecycle,
		Registry:    s.registry,
		Metrics:     s.metrics,
		Agents:      s.backends.Agents,
		Transcribe:  s.backends.Transcribe,
		Completer:   s.backends.Completer,
		Synthesizer: s.backends.Synthesizer,
		Calls:       s.backends.Calls,
		Recorder:    s.backends.Recorder,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.lifecycle
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}
