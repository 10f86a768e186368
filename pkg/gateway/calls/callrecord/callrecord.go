// Package callrecord defines what a call session writes back about a call.
package callrecord

import (
	"context"
	"time"
)

type Status string

const (
	StatusInitiated   Status = "initiated"
	StatusRinging     Status = "ringing"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusTransferred Status = "transferred"
)

// Terminal reports whether a call in status s has ended.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTransferred:
		return true
	default:
		return false
	}
}

// NonTerminal lists the statuses a crashed process can leave behind.
var NonTerminal = []Status{StatusInitiated, StatusRinging, StatusInProgress}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of the call transcript.
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Final is written once when the session closes.
type Final struct {
	Status          Status
	Transcript      []Entry
	DurationSeconds int
	EndedAt         time.Time
}

// Recorder persists call state. Implementations must be safe for concurrent
// use.
type Recorder interface {
	MarkInProgress(ctx context.Context, callID string, startedAt time.Time) error
	RecordTransfer(ctx context.Context, callID, to, reason string) error
	Finalize(ctx context.Context, callID string, final Final) error
}

// Discard is a Recorder that stores nothing.
type Discard struct{}

func (Discard) MarkInProgress(context.Context, string, time.Time) error { return nil }
func (Discard) RecordTransfer(context.Context, string, string, string) error {
	return nil
}
func (Discard) Finalize(context.Context, string, Final) error { return nil }
