package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/completion"
)

const (
	STTProviderDeepgram = "deepgram"
	STTProviderCartesia = "cartesia"

	TTSProviderElevenLabs = "elevenlabs"
	TTSProviderCartesia   = "cartesia"
)

type Config struct {
	Addr string

	DatabaseURL    string
	DBAutoMigrate  bool
	KnowledgeLimit int

	// Speech recognition.
	STTProvider    string
	STTLanguage    string
	STTEndpointing time.Duration
	DeepgramAPIKey string
	DeepgramModel  string
	CartesiaAPIKey string

	// Speech synthesis.
	TTSProvider      string
	ElevenLabsAPIKey string
	DefaultVoiceID   string

	// Completion backends.
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	GeminiAPIKey        string
	DefaultModel        string
	MaxCompletionTokens int

	// Call control. Both or neither.
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioBaseURL    string

	// Media stream.
	PlaybackWaitMax time.Duration
	WSWriteTimeout  time.Duration
	WSPingInterval  time.Duration
	MaxMessageBytes int64

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ProviderTimeout     time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICE_ADDR", ":8080"),
		DatabaseURL:         envOr("VOICE_DATABASE_URL", ""),
		DBAutoMigrate:       envBoolOr("VOICE_DB_AUTO_MIGRATE", false),
		KnowledgeLimit:      envIntOr("VOICE_KNOWLEDGE_LIMIT", 8),
		STTProvider:         strings.ToLower(envOr("VOICE_STT_PROVIDER", STTProviderDeepgram)),
		STTLanguage:         envOr("VOICE_STT_LANGUAGE", "en"),
		STTEndpointing:      envDurationOr("VOICE_STT_ENDPOINTING", 300*time.Millisecond),
		DeepgramAPIKey:      envOr("DEEPGRAM_API_KEY", ""),
		DeepgramModel:       envOr("VOICE_DEEPGRAM_MODEL", "nova-2"),
		CartesiaAPIKey:      envOr("CARTESIA_API_KEY", ""),
		TTSProvider:         strings.ToLower(envOr("VOICE_TTS_PROVIDER", TTSProviderElevenLabs)),
		ElevenLabsAPIKey:    envOr("ELEVENLABS_API_KEY", ""),
		DefaultVoiceID:      envOr("VOICE_DEFAULT_VOICE_ID", ""),
		OpenAIAPIKey:        envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envOr("VOICE_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		DefaultModel:        envOr("VOICE_DEFAULT_MODEL", "gpt-4o-mini"),
		MaxCompletionTokens: envIntOr("VOICE_MAX_COMPLETION_TOKENS", 200),
		TwilioAccountSID:    envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioBaseURL:       envOr("VOICE_TWILIO_BASE_URL", "https://api.twilio.com"),
		PlaybackWaitMax:     envDurationOr("VOICE_PLAYBACK_WAIT_MAX", 8*time.Second),
		WSWriteTimeout:      envDurationOr("VOICE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:      envDurationOr("VOICE_WS_PING_INTERVAL", 20*time.Second),
		MaxMessageBytes:     envInt64Or("VOICE_MAX_MESSAGE_BYTES", 64*1024),
		ReadHeaderTimeout:   envDurationOr("VOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ProviderTimeout:     envDurationOr("VOICE_PROVIDER_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("VOICE_DATABASE_URL must be set")
	}

	switch cfg.STTProvider {
	case STTProviderDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return Config{}, fmt.Errorf("DEEPGRAM_API_KEY must be set when VOICE_STT_PROVIDER=deepgram")
		}
	case STTProviderCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("CARTESIA_API_KEY must be set when VOICE_STT_PROVIDER=cartesia")
		}
	default:
		return Config{}, fmt.Errorf("VOICE_STT_PROVIDER must be one of deepgram|cartesia")
	}

	switch cfg.TTSProvider {
	case TTSProviderElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return Config{}, fmt.Errorf("ELEVENLABS_API_KEY must be set when VOICE_TTS_PROVIDER=elevenlabs")
		}
		if cfg.DefaultVoiceID == "" {
			return Config{}, fmt.Errorf("VOICE_DEFAULT_VOICE_ID must be set when VOICE_TTS_PROVIDER=elevenlabs")
		}
	case TTSProviderCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("CARTESIA_API_KEY must be set when VOICE_TTS_PROVIDER=cartesia")
		}
	default:
		return Config{}, fmt.Errorf("VOICE_TTS_PROVIDER must be one of elevenlabs|cartesia")
	}

	if cfg.OpenAIAPIKey == "" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("one of OPENAI_API_KEY or GEMINI_API_KEY must be set")
	}
	if completion.Backend(cfg.DefaultModel) == "gemini" {
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when VOICE_DEFAULT_MODEL is a gemini model")
		}
	} else if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set when VOICE_DEFAULT_MODEL is not a gemini model")
	}
	if cfg.MaxCompletionTokens <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_COMPLETION_TOKENS must be > 0")
	}

	if (cfg.TwilioAccountSID == "") != (cfg.TwilioAuthToken == "") {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together")
	}

	if cfg.KnowledgeLimit <= 0 {
		return Config{}, fmt.Errorf("VOICE_KNOWLEDGE_LIMIT must be > 0")
	}
	if cfg.STTEndpointing <= 0 {
		return Config{}, fmt.Errorf("VOICE_STT_ENDPOINTING must be > 0")
	}
	if cfg.PlaybackWaitMax <= 0 {
		return Config{}, fmt.Errorf("VOICE_PLAYBACK_WAIT_MAX must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ProviderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// TwilioConfigured reports whether call control credentials are present.
func (c Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envDurationOr accepts Go durations ("300ms") or bare integers, which are
// read as milliseconds.
func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
