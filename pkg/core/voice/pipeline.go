// Package voice connects the speech providers to the telephone line: caller
// audio goes to streaming STT, and synthesized speech comes back as 8 kHz
// mu-law.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/vai-phone/pkg/core/voice/codec"
	"github.com/vango-go/vai-phone/pkg/core/voice/stt"
	"github.com/vango-go/vai-phone/pkg/core/voice/tts"
)

// Pipeline pairs the STT and TTS providers used for calls.
type Pipeline struct {
	sttProvider  stt.Provider
	ttsProvider  tts.Provider
	sttOptions   stt.StreamOptions
	defaultVoice string
	logger       *slog.Logger
}

type PipelineConfig struct {
	STT          stt.Provider
	TTS          tts.Provider
	STTOptions   stt.StreamOptions
	DefaultVoice string
	Logger       *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		sttProvider:  cfg.STT,
		ttsProvider:  cfg.TTS,
		sttOptions:   cfg.STTOptions,
		defaultVoice: strings.TrimSpace(cfg.DefaultVoice),
		logger:       logger,
	}
}

// OpenTranscriber dials a streaming STT session for one call.
func (p *Pipeline) OpenTranscriber(ctx context.Context, handlers stt.Handlers) (*stt.Bridge, error) {
	if p == nil || p.sttProvider == nil {
		return nil, fmt.Errorf("stt provider is not configured")
	}
	b := stt.NewBridge(p.sttProvider, p.sttOptions, handlers, p.logger)
	if err := b.Open(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Synthesize renders text as line audio (8 kHz mu-law). An empty voiceID
// uses the configured default voice.
func (p *Pipeline) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if p == nil || p.ttsProvider == nil {
		return nil, fmt.Errorf("tts provider is not configured")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = p.defaultVoice
	}

	synth, err := p.ttsProvider.Synthesize(ctx, text, tts.SynthesizeOptions{
		Voice:      voiceID,
		SampleRate: tts.DefaultSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if synth == nil || len(synth.Audio) < 2 {
		return nil, fmt.Errorf("synthesize: %w", tts.ErrEmptyAudio)
	}
	rate := synth.SampleRate
	if rate <= 0 {
		rate = tts.DefaultSampleRate
	}
	return codec.PCMToMulaw(synth.Audio, rate), nil
}
