package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	deepgramDefaultURL   = "wss://api.deepgram.com/v1/listen"
	deepgramDefaultModel = "nova-2"
	deepgramKeepAlive    = 8 * time.Second
)

var (
	deepgramKeepAliveMsg = []byte(`{"type":"KeepAlive"}`)
	deepgramCloseMsg     = []byte(`{"type":"CloseStream"}`)
)

// DeepgramProvider streams audio to Deepgram's live transcription API.
type DeepgramProvider struct {
	apiKey    string
	baseURL   string
	keepAlive time.Duration
}

func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:    strings.TrimSpace(apiKey),
		baseURL:   deepgramDefaultURL,
		keepAlive: deepgramKeepAlive,
	}
}

// WithBaseURL points the provider at a different listen endpoint.
func (d *DeepgramProvider) WithBaseURL(base string) *DeepgramProvider {
	if d == nil {
		return d
	}
	base = strings.TrimSpace(base)
	if base != "" {
		d.baseURL = base
	}
	return d
}

// WithKeepAlive overrides the keep-alive interval. Zero disables it.
func (d *DeepgramProvider) WithKeepAlive(interval time.Duration) *DeepgramProvider {
	if d != nil {
		d.keepAlive = interval
	}
	return d
}

func (d *DeepgramProvider) Name() string {
	return "deepgram"
}

func (d *DeepgramProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if d == nil || d.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	wsURL, err := buildDeepgramURL(d.baseURL, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)
	conn, err := dialStream(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	s := newWSStream(conn, parseDeepgram, deepgramCloseMsg)
	s.keepAlive(d.keepAlive, deepgramKeepAliveMsg)
	return s, nil
}

func buildDeepgramURL(base string, opts StreamOptions) (string, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(base) == "" {
		base = deepgramDefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = deepgramDefaultModel
	}
	q := u.Query()
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", strconv.Itoa(opts.Channels))
	q.Set("model", model)
	q.Set("language", opts.Language)
	q.Set("interim_results", "true")
	q.Set("endpointing", strconv.FormatInt(opts.Endpointing.Milliseconds(), 10))
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseDeepgram(data []byte) ([]Event, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}

	switch msg.Type {
	case "Results":
		text := ""
		if len(msg.Channel.Alternatives) > 0 {
			text = strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		}
		switch {
		case msg.IsFinal && msg.SpeechFinal:
			return []Event{{Kind: EventFinal, Text: text}}, false
		case msg.IsFinal:
			return []Event{{Kind: EventCommitted, Text: text}}, false
		default:
			return []Event{{Kind: EventInterim, Text: text}}, false
		}
	case "UtteranceEnd":
		return []Event{{Kind: EventFinal}}, false
	case "Error":
		detail := msg.Description
		if detail == "" {
			detail = msg.Message
		}
		return []Event{{Kind: EventError, Err: fmt.Errorf("deepgram: %s", detail)}}, false
	default:
		return nil, false
	}
}
