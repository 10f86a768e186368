// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrEmptyAudio is returned when a provider answers successfully but sends
// no audio.
var ErrEmptyAudio = errors.New("tts provider returned no audio")

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to raw little-endian 16-bit mono PCM.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string // Provider voice identifier
	Model      string // Provider model; empty uses the provider default
	SampleRate int    // PCM sample rate (default: 16000)
}

func (o SynthesizeOptions) sampleRate() int {
	if o.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return o.SampleRate
}

// DefaultSampleRate is the PCM rate requested from providers.
const DefaultSampleRate = 16000

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio      []byte // s16le PCM
	SampleRate int
}

// APIError is a non-2xx provider response.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s error %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, body)
}

func readAudio(provider string, resp *http.Response, sampleRate int) (*Synthesis, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read audio: %w", provider, err)
	}
	if len(audio) < 2 {
		return nil, fmt.Errorf("%s: %w", provider, ErrEmptyAudio)
	}
	return &Synthesis{Audio: audio, SampleRate: sampleRate}, nil
}
