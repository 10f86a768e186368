package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string // empty uses the public Gemini API
	HTTPClient *http.Client
}

// Gemini completes through the Gemini API with the genai SDK.
type Gemini struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Name() string {
	return "gemini"
}

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	if g == nil || g.client == nil {
		return "", fmt.Errorf("gemini client is not configured")
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("model is required")
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.maxTokens()),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, geminiContents(req.Messages), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &APIError{
				Provider:   g.Name(),
				StatusCode: apiErr.Code,
				Type:       apiErr.Status,
				Message:    apiErr.Message,
			}
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// geminiContents maps history onto Gemini turns. Gemini wants alternating
// roles, so consecutive turns of the same role are merged.
func geminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if n := len(out); n > 0 && out[n-1].Role == string(role) {
			out[n-1].Parts = append(out[n-1].Parts, genai.NewPartFromText(text))
			continue
		}
		out = append(out, genai.NewContentFromText(text, role))
	}
	return out
}
