package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	cartesiaDefaultURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion      = "2025-04-16"
	cartesiaDefaultModel = "ink-whisper"
)

// CartesiaProvider streams audio to Cartesia's STT websocket.
type CartesiaProvider struct {
	apiKey  string
	baseURL string
}

func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: cartesiaDefaultURL,
	}
}

func (c *CartesiaProvider) WithBaseURL(base string) *CartesiaProvider {
	if c == nil {
		return c
	}
	base = strings.TrimSpace(base)
	if base != "" {
		c.baseURL = base
	}
	return c
}

func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

func (c *CartesiaProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if c == nil || c.apiKey == "" {
		return nil, fmt.Errorf("cartesia api key is required")
	}
	wsURL, err := buildCartesiaURL(c.baseURL, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)
	header.Set("Cartesia-Version", cartesiaVersion)
	conn, err := dialStream(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("cartesia: %w", err)
	}
	return newWSStream(conn, parseCartesia, []byte("done")), nil
}

func buildCartesiaURL(base string, opts StreamOptions) (string, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(base) == "" {
		base = cartesiaDefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid cartesia url: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = cartesiaDefaultModel
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("language", opts.Language)
	q.Set("encoding", cartesiaEncoding(opts.Encoding))
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("max_silence_duration_secs", strconv.FormatFloat(opts.Endpointing.Seconds(), 'f', -1, 64))
	q.Set("min_volume", "0.01")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func cartesiaEncoding(encoding string) string {
	switch encoding {
	case "mulaw", "pcm_mulaw":
		return "pcm_mulaw"
	case "pcm_s16le", "pcm_s32le", "pcm_f16le", "pcm_f32le", "pcm_alaw":
		return encoding
	default:
		return "pcm_mulaw"
	}
}

type cartesiaMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

// Cartesia has no committed segments: with silence endpointing each final
// result closes the utterance.
func parseCartesia(data []byte) ([]Event, bool) {
	var msg cartesiaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}

	switch msg.Type {
	case "transcript":
		text := strings.TrimSpace(msg.Text)
		if msg.IsFinal {
			return []Event{{Kind: EventFinal, Text: text}}, false
		}
		return []Event{{Kind: EventInterim, Text: text}}, false
	case "error":
		return []Event{{Kind: EventError, Err: fmt.Errorf("cartesia: %s", msg.Error)}}, false
	case "done":
		return nil, true
	default:
		return nil, false
	}
}
