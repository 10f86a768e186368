package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/vai-phone/pkg/gateway/calls/callrecord"
)

// ErrCallNotFound is returned when a write targets a call record that does
// not exist.
var ErrCallNotFound = errors.New("call record not found")

// CallRecords writes session outcomes to call_records.
type CallRecords struct {
	store *Store
}

var _ callrecord.Recorder = CallRecords{}

func (s *Store) CallRecords() CallRecords {
	return CallRecords{store: s}
}

func (c CallRecords) MarkInProgress(ctx context.Context, callID string, startedAt time.Time) error {
	return c.exec(ctx, callID, `
		UPDATE call_records
		SET status = $2, started_at = $3, updated_at = now()
		WHERE id = $1`,
		callID, string(callrecord.StatusInProgress), startedAt,
	)
}

func (c CallRecords) RecordTransfer(ctx context.Context, callID, to, reason string) error {
	return c.exec(ctx, callID, `
		UPDATE call_records
		SET status = $2, transferred_to = $3, transfer_reason = $4, updated_at = now()
		WHERE id = $1`,
		callID, string(callrecord.StatusTransferred), to, reason,
	)
}

func (c CallRecords) Finalize(ctx context.Context, callID string, final callrecord.Final) error {
	transcript := final.Transcript
	if transcript == nil {
		transcript = []callrecord.Entry{}
	}
	raw, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return c.exec(ctx, callID, `
		UPDATE call_records
		SET status = $2, transcript = $3::jsonb, duration_seconds = $4, ended_at = $5, updated_at = now()
		WHERE id = $1`,
		callID, string(final.Status), string(raw), final.DurationSeconds, final.EndedAt,
	)
}

func (c CallRecords) exec(ctx context.Context, callID, sql string, args ...any) error {
	tag, err := c.store.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update call record %s: %w", callID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return nil
}

// SweepStale marks every call left in a non-terminal status as failed. It
// runs at startup, before any session exists, to close out calls a crashed
// process never finalized.
func (s *Store) SweepStale(ctx context.Context) (int64, error) {
	statuses := make([]string, len(callrecord.NonTerminal))
	for i, st := range callrecord.NonTerminal {
		statuses[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_records
		SET status = $1, ended_at = now(), updated_at = now()
		WHERE status = ANY($2)`,
		string(callrecord.StatusFailed), statuses,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep stale calls: %w", err)
	}
	return tag.RowsAffected(), nil
}
