package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handlers receive a Bridge's results. Callbacks run on the bridge's
// consumer goroutine and must not block for long.
type Handlers struct {
	OnFinal func(text string)
	OnError func(err error)
	OnClose func()
}

// Bridge owns one provider stream for a call and assembles utterances from
// its interim, committed, and final results.
type Bridge struct {
	provider Provider
	opts     StreamOptions
	handlers Handlers
	logger   *slog.Logger

	mu      sync.Mutex
	stream  Stream
	closed  bool
	interim string
	pending []string
}

func NewBridge(provider Provider, opts StreamOptions, handlers Handlers, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		provider: provider,
		opts:     opts,
		handlers: handlers,
		logger:   logger,
	}
}

// Open dials the provider. Calling Open on an open bridge is a no-op.
func (b *Bridge) Open(ctx context.Context) error {
	if b == nil || b.provider == nil {
		return fmt.Errorf("stt provider is not configured")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStreamClosed
	}
	if b.stream != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	stream, err := b.provider.NewStream(ctx, b.opts)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", b.provider.Name(), err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = stream.Close()
		return ErrStreamClosed
	}
	b.stream = stream
	b.mu.Unlock()

	go b.consume(stream)
	return nil
}

func (b *Bridge) consume(stream Stream) {
	for ev := range stream.Events() {
		b.handle(ev)
	}
	b.logger.Debug("stt stream ended", "provider", b.provider.Name())
	if b.handlers.OnClose != nil {
		b.handlers.OnClose()
	}
}

func (b *Bridge) handle(ev Event) {
	switch ev.Kind {
	case EventInterim:
		b.mu.Lock()
		b.interim = ev.Text
		b.mu.Unlock()

	case EventCommitted:
		b.mu.Lock()
		if text := strings.TrimSpace(ev.Text); text != "" {
			b.pending = append(b.pending, text)
		}
		b.interim = ""
		b.mu.Unlock()

	case EventFinal:
		b.mu.Lock()
		parts := append([]string(nil), b.pending...)
		if text := strings.TrimSpace(ev.Text); text != "" {
			parts = append(parts, text)
		}
		utterance := strings.Join(parts, " ")
		if utterance == "" {
			utterance = strings.TrimSpace(b.interim)
		}
		b.pending = nil
		b.interim = ""
		b.mu.Unlock()

		if utterance != "" && b.handlers.OnFinal != nil {
			b.handlers.OnFinal(utterance)
		}

	case EventError:
		if ev.Err != nil && b.handlers.OnError != nil {
			b.handlers.OnError(ev.Err)
		}
	}
}

// Send forwards one line-encoded frame. Before Open and after Close it
// drops the frame.
func (b *Bridge) Send(frame []byte) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	stream, closed := b.stream, b.closed
	b.mu.Unlock()
	if stream == nil || closed {
		return nil
	}
	if err := stream.Send(frame); err != nil {
		if errors.Is(err, ErrStreamClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (b *Bridge) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	stream := b.stream
	b.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Close()
}
