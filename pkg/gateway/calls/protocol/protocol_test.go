package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeMessage_Start(t *testing.T) {
	raw := []byte(`{
		"event":"start",
		"sequenceNumber":"1",
		"start":{
			"accountSid":"AC1",
			"streamSid":"MZ123",
			"callSid":"CA9",
			"tracks":["inbound"],
			"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},
			"customParameters":{"callId":"call-1"}
		},
		"streamSid":"MZ123"
	}`)

	msg, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("decoded type = %T, want Start", msg)
	}
	if start.StreamID() != "MZ123" || start.Start.CallSID != "CA9" {
		t.Fatalf("start=%+v", start)
	}
	if start.Start.CustomParameters["callId"] != "call-1" {
		t.Fatalf("customParameters=%v", start.Start.CustomParameters)
	}
}

func TestDecodeMessage_StartValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{name: "missing stream", raw: `{"event":"start","start":{"callSid":"CA1"}}`, code: "bad_request"},
		{name: "wrong encoding", raw: `{"event":"start","start":{"streamSid":"MZ1","mediaFormat":{"encoding":"audio/l16","sampleRate":8000,"channels":1}}}`, code: "unsupported"},
		{name: "wrong rate", raw: `{"event":"start","start":{"streamSid":"MZ1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":16000,"channels":1}}}`, code: "unsupported"},
		{name: "malformed", raw: `{"event":"start","start":"MZ1"}`, code: "bad_request"},
		{name: "stereo", raw: `{"event":"start","start":{"streamSid":"MZ1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":2}}}`, code: "unsupported"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tc.raw))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%v, want *DecodeError", err)
			}
			if de.Code != tc.code {
				t.Fatalf("code=%q, want %q", de.Code, tc.code)
			}
			if de.Event != EventStart {
				t.Fatalf("event=%q, want %q", de.Event, EventStart)
			}
		})
	}
}

func TestDecodeMessage_Media(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"20","payload":"/38A"}}`))
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	media := msg.(Media)
	if !bytes.Equal(media.Audio, []byte{0xff, 0x7f, 0x00}) {
		t.Fatalf("audio=%v", media.Audio)
	}

	if _, err := DecodeMessage([]byte(`{"event":"media","media":{"payload":"%%%"}}`)); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

func TestDecodeMessage_Other(t *testing.T) {
	if msg, err := DecodeMessage([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)); err != nil {
		t.Fatalf("connected: %v", err)
	} else if _, ok := msg.(Connected); !ok {
		t.Fatalf("connected decoded as %T", msg)
	}

	msg, err := DecodeMessage([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"turn-3"}}`))
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if mark := msg.(Mark); mark.Mark.Name != "turn-3" {
		t.Fatalf("mark=%+v", mark)
	}
	if _, err := DecodeMessage([]byte(`{"event":"mark","mark":{}}`)); err == nil {
		t.Fatalf("expected error for unnamed mark")
	}

	msg, err = DecodeMessage([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stop := msg.(Stop); stop.Stop.CallSID != "CA1" {
		t.Fatalf("stop=%+v", stop)
	}

	for _, raw := range []string{`not json`, `{}`, `{"event":"bogus"}`} {
		if _, err := DecodeMessage([]byte(raw)); err == nil {
			t.Fatalf("DecodeMessage(%s) should fail", raw)
		}
	}
}

func TestOutboundMessages(t *testing.T) {
	b, err := json.Marshal(NewMedia("MZ1", []byte{0xff, 0x7f, 0x00}))
	if err != nil {
		t.Fatalf("marshal media: %v", err)
	}
	if string(b) != `{"event":"media","streamSid":"MZ1","media":{"payload":"/38A"}}` {
		t.Fatalf("media=%s", b)
	}

	b, _ = json.Marshal(NewMark("MZ1", "turn-1"))
	if string(b) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"turn-1"}}` {
		t.Fatalf("mark=%s", b)
	}
}
