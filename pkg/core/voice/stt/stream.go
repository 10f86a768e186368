package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 5 * time.Second
	eventBuffer        = 64
)

// parseFunc maps one provider message to zero or more events. done reports
// that the provider has finished the session.
type parseFunc func(data []byte) (events []Event, done bool)

// wsStream is the websocket plumbing shared by the streaming providers.
type wsStream struct {
	conn     *websocket.Conn
	events   chan Event
	done     chan struct{}
	finished chan struct{}
	closed   atomic.Bool
	writeMu  sync.Mutex

	parse    parseFunc
	closeMsg []byte
}

func dialStream(ctx context.Context, rawURL string, header http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

func newWSStream(conn *websocket.Conn, parse parseFunc, closeMsg []byte) *wsStream {
	s := &wsStream{
		conn:     conn,
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		parse:    parse,
		closeMsg: closeMsg,
	}
	go s.readLoop()
	return s
}

func (s *wsStream) readLoop() {
	defer func() {
		close(s.events)
		close(s.finished)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.push(Event{Kind: EventError, Err: fmt.Errorf("stt read: %w", err)})
			}
			return
		}
		events, done := s.parse(data)
		for _, ev := range events {
			if !s.push(ev) {
				return
			}
		}
		if done {
			return
		}
	}
}

func (s *wsStream) push(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// keepAlive writes msg every interval until the stream ends.
func (s *wsStream) keepAlive(interval time.Duration, msg []byte) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-s.finished:
				return
			case <-ticker.C:
				if err := s.write(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	}()
}

func (s *wsStream) write(messageType int, data []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsStream) Send(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return s.write(websocket.BinaryMessage, audio)
}

func (s *wsStream) Events() <-chan Event {
	return s.events
}

func (s *wsStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if len(s.closeMsg) > 0 {
		_ = s.conn.WriteMessage(websocket.TextMessage, s.closeMsg)
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
