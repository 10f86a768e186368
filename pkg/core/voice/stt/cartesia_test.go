package stt

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildCartesiaURL(t *testing.T) {
	raw, err := buildCartesiaURL("", StreamOptions{Endpointing: 400 * time.Millisecond})
	if err != nil {
		t.Fatalf("buildCartesiaURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("encoding") != "pcm_mulaw" {
		t.Fatalf("encoding=%q, want pcm_mulaw", q.Get("encoding"))
	}
	if q.Get("sample_rate") != "8000" {
		t.Fatalf("sample_rate=%q, want 8000", q.Get("sample_rate"))
	}
	if q.Get("model") != "ink-whisper" {
		t.Fatalf("model=%q", q.Get("model"))
	}
	if q.Get("max_silence_duration_secs") != "0.4" {
		t.Fatalf("max_silence_duration_secs=%q, want 0.4", q.Get("max_silence_duration_secs"))
	}
	if q.Get("api_key") != "" {
		t.Fatalf("api key must travel in a header, not the query")
	}
}

func TestParseCartesia(t *testing.T) {
	events, done := parseCartesia([]byte(`{"type":"transcript","text":"hi","is_final":false}`))
	if done || len(events) != 1 || events[0].Kind != EventInterim || events[0].Text != "hi" {
		t.Fatalf("interim events=%+v done=%v", events, done)
	}

	events, _ = parseCartesia([]byte(`{"type":"transcript","text":"hi there","is_final":true}`))
	if len(events) != 1 || events[0].Kind != EventFinal || events[0].Text != "hi there" {
		t.Fatalf("final events=%+v", events)
	}

	events, _ = parseCartesia([]byte(`{"type":"error","error":"quota"}`))
	if len(events) != 1 || events[0].Kind != EventError || events[0].Err == nil {
		t.Fatalf("error events=%+v", events)
	}

	if _, done := parseCartesia([]byte(`{"type":"done"}`)); !done {
		t.Fatalf("done message should end the stream")
	}
	if events, done := parseCartesia([]byte(`{"type":"flush_done"}`)); done || len(events) != 0 {
		t.Fatalf("flush_done events=%+v done=%v", events, done)
	}
}
