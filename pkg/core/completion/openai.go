package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOpenAIBaseURL is the default OpenAI API endpoint.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI talks to any OpenAI-compatible Chat Completions endpoint.
type OpenAI struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures the OpenAI backend.
type Option func(*OpenAI)

// WithBaseURL sets a custom base URL (Groq, OpenRouter, or a test server).
func WithBaseURL(url string) Option {
	return func(o *OpenAI) {
		if url = strings.TrimSpace(url); url != "" {
			o.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *OpenAI) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := &OpenAI{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultOpenAIBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenAI) Name() string {
	return "openai"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o == nil || o.apiKey == "" {
		return "", fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("model is required")
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.maxTokens(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", o.parseError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (o *OpenAI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	apiErr := &APIError{Provider: o.Name(), StatusCode: resp.StatusCode}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Type = parsed.Error.Type
		apiErr.Message = parsed.Error.Message
		return apiErr
	}
	apiErr.Message = string(body)
	return apiErr
}

func (o *OpenAI) chatCompletionsURL() string {
	return strings.TrimRight(o.baseURL, "/") + "/chat/completions"
}
