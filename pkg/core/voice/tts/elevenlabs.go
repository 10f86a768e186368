package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	elevenLabsDefaultBase  = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_turbo_v2_5"
)

type ElevenLabsProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return NewElevenLabsWithClient(apiKey, nil)
}

func NewElevenLabsWithClient(apiKey string, client *http.Client) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabsProvider{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
		baseURL:    elevenLabsDefaultBase,
	}
}

func (e *ElevenLabsProvider) WithBaseURL(base string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" {
		e.baseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if e == nil || e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	model := opts.Model
	if model == "" {
		model = elevenLabsDefaultModel
	}
	rate := opts.sampleRate()

	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: model,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqURL := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) +
		"?output_format=pcm_" + strconv.Itoa(rate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	return readAudio(e.Name(), resp, rate)
}
