// Package protocol encodes and decodes Twilio Media Streams messages.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventDTMF      = "dtmf"

	// LineEncoding is the only media format the gateway accepts.
	LineEncoding   = "audio/x-mulaw"
	LineSampleRate = 8000
)

type DecodeError struct {
	// Event is set when the frame named a known event but failed to decode.
	// Only rejected start frames carry it today.
	Event   string
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartInfo struct {
	AccountSID       string            `json:"accountSid,omitempty"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type Start struct {
	Event          string    `json:"event"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	StreamSID      string    `json:"streamSid,omitempty"`
	Start          StartInfo `json:"start"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Media is an inbound audio chunk. Audio holds the decoded payload.
type Media struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSID      string       `json:"streamSid,omitempty"`
	Media          MediaPayload `json:"media"`
	Audio          []byte       `json:"-"`
}

type MarkName struct {
	Name string `json:"name"`
}

type Mark struct {
	Event          string   `json:"event"`
	SequenceNumber string   `json:"sequenceNumber,omitempty"`
	StreamSID      string   `json:"streamSid,omitempty"`
	Mark           MarkName `json:"mark"`
}

type StopInfo struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

type Stop struct {
	Event          string   `json:"event"`
	SequenceNumber string   `json:"sequenceNumber,omitempty"`
	StreamSID      string   `json:"streamSid,omitempty"`
	Stop           StopInfo `json:"stop"`
}

type DTMFDigit struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

type DTMF struct {
	Event     string    `json:"event"`
	StreamSID string    `json:"streamSid,omitempty"`
	DTMF      DTMFDigit `json:"dtmf"`
}

// DecodeMessage parses one inbound text frame into Connected, Start, Media,
// Mark, Stop, or DTMF.
func DecodeMessage(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badRequest("missing event", "event")
	}

	switch event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connected frame", "")
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			e := badRequest("invalid start frame", "")
			e.Event = EventStart
			return nil, e
		}
		if err := ValidateStart(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid media frame", "")
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return msg, nil
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return nil, badRequest("media.payload is not valid base64", "media.payload")
		}
		msg.Audio = audio
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid mark frame", "")
		}
		if strings.TrimSpace(msg.Mark.Name) == "" {
			return nil, badRequest("mark.name is required", "mark.name")
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop frame", "")
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid dtmf frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported event", "event")
	}
}

// StreamID returns the stream sid, preferring the nested start payload.
func (s Start) StreamID() string {
	if id := strings.TrimSpace(s.Start.StreamSID); id != "" {
		return id
	}
	return strings.TrimSpace(s.StreamSID)
}

func ValidateStart(msg Start) error {
	if err := validateStart(msg); err != nil {
		err.Event = EventStart
		return err
	}
	return nil
}

func validateStart(msg Start) *DecodeError {
	if msg.StreamID() == "" {
		return badRequest("start.streamSid is required", "start.streamSid")
	}
	f := msg.Start.MediaFormat
	if f.Encoding != "" && !strings.EqualFold(f.Encoding, LineEncoding) {
		return unsupported("unsupported media encoding", "start.mediaFormat.encoding")
	}
	if f.SampleRate != 0 && f.SampleRate != LineSampleRate {
		return unsupported("unsupported media sample rate", "start.mediaFormat.sampleRate")
	}
	if f.Channels > 1 {
		return unsupported("unsupported channel count", "start.mediaFormat.channels")
	}
	return nil
}

type OutboundMedia struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid"`
	Media     OutboundPayload `json:"media"`
}

type OutboundPayload struct {
	Payload string `json:"payload"`
}

type OutboundMark struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      MarkName `json:"mark"`
}

func NewMedia(streamSID string, frame []byte) OutboundMedia {
	return OutboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     OutboundPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

func NewMark(streamSID, name string) OutboundMark {
	return OutboundMark{Event: EventMark, StreamSID: streamSID, Mark: MarkName{Name: name}}
}
