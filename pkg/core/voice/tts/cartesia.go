package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	cartesiaDefaultBase  = "https://api.cartesia.ai"
	cartesiaVersion      = "2025-04-16"
	cartesiaDefaultModel = "sonic-3"
)

// Used only when neither the agent nor the gateway names a voice.
const defaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

// CartesiaProvider implements the TTS Provider interface using Cartesia's
// bytes endpoint.
type CartesiaProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, nil)
}

func NewCartesiaWithClient(apiKey string, client *http.Client) *CartesiaProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &CartesiaProvider{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
		baseURL:    cartesiaDefaultBase,
	}
}

func (c *CartesiaProvider) WithBaseURL(base string) *CartesiaProvider {
	if c == nil {
		return c
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" {
		c.baseURL = base
	}
	return c
}

func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

type cartesiaTTSRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

func (c *CartesiaProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if c == nil || c.apiKey == "" {
		return nil, fmt.Errorf("cartesia api key is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	model := opts.Model
	if model == "" {
		model = cartesiaDefaultModel
	}
	rate := opts.sampleRate()

	body, err := json.Marshal(cartesiaTTSRequest{
		ModelID:    model,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: rate,
		},
		Language: "en",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	return readAudio(c.Name(), resp, rate)
}
