// Package stt streams line audio to speech-to-text services and turns their
// partial results into finished utterances.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrStreamClosed is returned when writing to a stream after Close.
var ErrStreamClosed = errors.New("stt stream closed")

// Provider opens streaming transcription sessions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream dials a streaming session. Results arrive on Stream.Events
	// until the stream closes.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream is one live transcription connection.
type Stream interface {
	Send(audio []byte) error
	Events() <-chan Event
	Close() error
}

// StreamOptions configures a streaming session.
type StreamOptions struct {
	Model       string        // Provider-specific model
	Language    string        // ISO language code (default: "en")
	Encoding    string        // Line encoding (default: "mulaw")
	SampleRate  int           // Hz (default: 8000)
	Channels    int           // default: 1
	Endpointing time.Duration // Silence that ends an utterance
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.Language == "" {
		o.Language = "en"
	}
	if o.Encoding == "" {
		o.Encoding = "mulaw"
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 8000
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.Endpointing <= 0 {
		o.Endpointing = 300 * time.Millisecond
	}
	return o
}

// EventKind classifies a transcription result.
type EventKind int

const (
	// EventInterim is a best guess that later results replace.
	EventInterim EventKind = iota
	// EventCommitted is a stable segment of an utterance still in progress.
	EventCommitted
	// EventFinal ends the utterance. Text may be empty.
	EventFinal
	// EventError reports a provider-side failure; the stream may stay open.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventCommitted:
		return "committed"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single result from a Stream.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}
