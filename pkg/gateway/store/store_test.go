package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vango-go/vai-phone/pkg/core/agents"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/callrecord"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestPool connects to VOICE_TEST_DATABASE_URL and migrates it. Tests
// are skipped when it is unset.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("VOICE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VOICE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool, testLogger()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return pool
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func exec(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no migrations embedded")
	}
}

func TestStore_LoadFullSnapshot(t *testing.T) {
	pool := openTestPool(t)
	s := New(pool, Options{KnowledgeLimit: 3, Logger: testLogger()})

	personaID, agentID := newID("persona"), newID("agent")
	srcA, srcB := newID("src"), newID("src")
	exec(t, pool, `INSERT INTO personas (id, workspace_id, name, role_title, tone, greeting_script, prohibited_behaviours, fallback_policy)
		VALUES ($1, 'ws-1', 'Riley', 'receptionist', 'friendly', 'Hi, this is Riley!', $2, 'escalate')`,
		personaID, []string{"quote prices"})
	exec(t, pool, `INSERT INTO agents (id, workspace_id, name, goals, persona_id, knowledge_source_ids, model, temperature, voice_id)
		VALUES ($1, 'ws-1', 'Acme Plumbing', 'Book jobs', $2, $3, 'gpt-4o-mini', 0.3, 'voice-9')`,
		agentID, personaID, []string{srcB, srcA})
	exec(t, pool, `INSERT INTO knowledge_chunks (source_id, chunk_index, content) VALUES
		($1, 1, 'a1'), ($1, 0, 'a0'), ($2, 0, 'b0'), ($2, 1, 'b1')`, srcA, srcB)
	exec(t, pool, `INSERT INTO escalation_numbers (agent_id, phone_number) VALUES ($1, '+15551234567')`, agentID)

	snap, err := s.Load(context.Background(), agentID)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap.Agent.Name != "Acme Plumbing" || snap.Agent.VoiceID != "voice-9" || snap.Agent.Temperature != 0.3 {
		t.Fatalf("agent=%+v", snap.Agent)
	}
	if snap.Persona == nil || snap.Persona.Tone != agents.ToneFriendly || snap.Persona.FallbackPolicy != agents.FallbackEscalate {
		t.Fatalf("persona=%+v", snap.Persona)
	}
	if got := snap.Persona.ProhibitedBehaviours; len(got) != 1 || got[0] != "quote prices" {
		t.Fatalf("prohibited=%v", got)
	}
	want := []string{"b0", "b1", "a0"}
	if len(snap.Knowledge) != len(want) {
		t.Fatalf("knowledge=%v, want %v", snap.Knowledge, want)
	}
	for i := range want {
		if snap.Knowledge[i] != want[i] {
			t.Fatalf("knowledge=%v, want %v", snap.Knowledge, want)
		}
	}
	if snap.EscalationNumber != "+15551234567" {
		t.Fatalf("escalation=%q", snap.EscalationNumber)
	}
}

func TestStore_LoadOptionalPartsAbsent(t *testing.T) {
	pool := openTestPool(t)
	s := New(pool, Options{Logger: testLogger()})

	agentID := newID("agent")
	exec(t, pool, `INSERT INTO agents (id, workspace_id, name) VALUES ($1, 'ws-1', 'Bare Agent')`, agentID)

	snap, err := s.Load(context.Background(), agentID)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap.Persona != nil || len(snap.Knowledge) != 0 || snap.EscalationNumber != "" {
		t.Fatalf("snapshot=%+v, want only the agent", snap)
	}
}

func TestStore_LoadUnknownAgent(t *testing.T) {
	pool := openTestPool(t)
	s := New(pool, Options{Logger: testLogger()})

	_, err := s.Load(context.Background(), newID("missing"))
	if !errors.Is(err, agents.ErrAgentNotFound) {
		t.Fatalf("err=%v, want ErrAgentNotFound", err)
	}
}

func TestCallRecords_Lifecycle(t *testing.T) {
	pool := openTestPool(t)
	s := New(pool, Options{Logger: testLogger()})
	rec := s.CallRecords()
	ctx := context.Background()

	callID := newID("call")
	exec(t, pool, `INSERT INTO call_records (id, workspace_id, agent_id, status) VALUES ($1, 'ws-1', 'agent-1', 'ringing')`, callID)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := rec.MarkInProgress(ctx, callID, started); err != nil {
		t.Fatalf("MarkInProgress() error: %v", err)
	}
	if err := rec.RecordTransfer(ctx, callID, "+15551234567", "billing issue"); err != nil {
		t.Fatalf("RecordTransfer() error: %v", err)
	}
	final := callrecord.Final{
		Status: callrecord.StatusTransferred,
		Transcript: []callrecord.Entry{
			{Role: callrecord.RoleAssistant, Text: "Hello!", Timestamp: started},
			{Role: callrecord.RoleUser, Text: "I have a billing question", Timestamp: started.Add(3 * time.Second)},
		},
		DurationSeconds: 12,
		EndedAt:         started.Add(12 * time.Second),
	}
	if err := rec.Finalize(ctx, callID, final); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}

	var (
		status, to, reason string
		duration           int
		raw                []byte
	)
	err := pool.QueryRow(ctx, `SELECT status, transferred_to, transfer_reason, duration_seconds, transcript FROM call_records WHERE id = $1`, callID).
		Scan(&status, &to, &reason, &duration, &raw)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if status != "transferred" || to != "+15551234567" || reason != "billing issue" || duration != 12 {
		t.Fatalf("row status=%q to=%q reason=%q duration=%d", status, to, reason, duration)
	}
	var transcript []callrecord.Entry
	if err := json.Unmarshal(raw, &transcript); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(transcript) != 2 || transcript[1].Text != "I have a billing question" {
		t.Fatalf("transcript=%+v", transcript)
	}
}

func TestCallRecords_MissingCall(t *testing.T) {
	pool := openTestPool(t)
	rec := New(pool, Options{Logger: testLogger()}).CallRecords()

	err := rec.MarkInProgress(context.Background(), newID("missing"), time.Now())
	if !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("err=%v, want ErrCallNotFound", err)
	}
}

func TestStore_SweepStale(t *testing.T) {
	pool := openTestPool(t)
	s := New(pool, Options{Logger: testLogger()})
	ctx := context.Background()

	live, done := newID("call"), newID("call")
	exec(t, pool, `INSERT INTO call_records (id, workspace_id, agent_id, status) VALUES ($1, 'ws-1', 'a', 'in_progress'), ($2, 'ws-1', 'a', 'completed')`, live, done)

	n, err := s.SweepStale(ctx)
	if err != nil {
		t.Fatalf("SweepStale() error: %v", err)
	}
	if n < 1 {
		t.Fatalf("swept=%d, want at least 1", n)
	}

	var liveStatus, doneStatus string
	var endedAt *time.Time
	if err := pool.QueryRow(ctx, `SELECT status, ended_at FROM call_records WHERE id = $1`, live).Scan(&liveStatus, &endedAt); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT status FROM call_records WHERE id = $1`, done).Scan(&doneStatus); err != nil {
		t.Fatalf("select: %v", err)
	}
	if liveStatus != "failed" || endedAt == nil {
		t.Fatalf("stale call status=%q ended_at=%v, want failed with ended_at", liveStatus, endedAt)
	}
	if doneStatus != "completed" {
		t.Fatalf("completed call status=%q, want unchanged", doneStatus)
	}
}
