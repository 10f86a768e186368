// Package completion requests one non-streaming chat completion per turn.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxTokens keeps spoken replies short.
const DefaultMaxTokens = 200

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("completion returned no text")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	System      string
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

func (r Request) maxTokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

// Completer returns the assistant's reply for a conversation. Implementations
// do not retry.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// APIError is a non-2xx response from a completion backend.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.Type != "" {
		return fmt.Sprintf("%s error %d (%s): %s", e.Provider, e.StatusCode, e.Type, msg)
	}
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, msg)
}
