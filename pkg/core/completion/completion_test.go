package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestOpenAI_Complete(t *testing.T) {
	var got chatRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" We open at 8am. "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI("sk-test", WithBaseURL(srv.URL+"/v1"))
	text, err := c.Complete(context.Background(), Request{
		System:      "You are Acme.",
		Messages:    []Message{{Role: RoleAssistant, Content: "Hello!"}, {Role: RoleUser, Content: "what are your hours"}},
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "We open at 8am." {
		t.Fatalf("text=%q", text)
	}
	if auth != "Bearer sk-test" || path != "/v1/chat/completions" {
		t.Fatalf("auth=%q path=%q", auth, path)
	}
	if got.MaxTokens != DefaultMaxTokens || got.Model != "gpt-4o-mini" || got.Temperature != 0.7 {
		t.Fatalf("request=%+v", got)
	}
	if len(got.Messages) != 3 || got.Messages[0].Role != "system" || got.Messages[2].Content != "what are your hours" {
		t.Fatalf("messages=%+v", got.Messages)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Case") {
		case "empty":
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
		}
	}))
	defer srv.Close()

	c := NewOpenAI("sk-test", WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Transport: caseTransport("rate")}))
	_, err := c.Complete(context.Background(), Request{Model: "gpt-4o-mini"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Type != "rate_limit_error" || apiErr.Message != "slow down" {
		t.Fatalf("apiErr=%+v", apiErr)
	}

	c = NewOpenAI("sk-test", WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Transport: caseTransport("empty")}))
	if _, err := c.Complete(context.Background(), Request{Model: "gpt-4o-mini"}); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("err=%v, want ErrEmptyCompletion", err)
	}

	if _, err := NewOpenAI("").Complete(context.Background(), Request{Model: "gpt-4o-mini"}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

type caseTransport string

func (c caseTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-Case", string(c))
	return http.DefaultTransport.RoundTrip(r)
}

type fakeCompleter struct {
	name string
	reqs []Request
}

func (f *fakeCompleter) Complete(_ context.Context, req Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.name, nil
}

func TestRouter_PicksBackendByModel(t *testing.T) {
	oa := &fakeCompleter{name: "openai"}
	gm := &fakeCompleter{name: "gemini"}
	r := NewRouter("gpt-4o-mini", oa, gm)

	tests := []struct {
		model string
		want  string
	}{
		{model: "gemini-2.0-flash", want: "gemini"},
		{model: "Gemini-1.5-pro", want: "gemini"},
		{model: "gpt-4o", want: "openai"},
		{model: "llama-3.1-8b-instant", want: "openai"},
		{model: "", want: "openai"},
	}
	for _, tc := range tests {
		got, err := r.Complete(context.Background(), Request{Model: tc.model})
		if err != nil {
			t.Fatalf("Complete(%q): %v", tc.model, err)
		}
		if got != tc.want {
			t.Fatalf("Complete(%q) routed to %q, want %q", tc.model, got, tc.want)
		}
	}
	if last := oa.reqs[len(oa.reqs)-1]; last.Model != "gpt-4o-mini" {
		t.Fatalf("empty model should use the default, got %q", last.Model)
	}
}

func TestRouter_MissingBackend(t *testing.T) {
	r := NewRouter("gpt-4o-mini", &fakeCompleter{name: "openai"}, nil)
	_, err := r.Complete(context.Background(), Request{Model: "gemini-2.0-flash"})
	if err == nil || !strings.Contains(err.Error(), "no gemini backend") {
		t.Fatalf("err=%v", err)
	}
	if _, err := NewRouter("", nil, nil).Complete(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error without any model")
	}
}

func TestGeminiContents(t *testing.T) {
	got := geminiContents([]Message{
		{Role: RoleUser, Content: "hello?"},
		{Role: RoleAssistant, Content: "Hi, how can I help?"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleUser, Content: "are you there"},
		{Role: RoleAssistant, Content: " "},
		{Role: RoleAssistant, Content: "Yes."},
	})
	if len(got) != 4 {
		t.Fatalf("len=%d, want 4", len(got))
	}
	wantRoles := []string{string(genai.RoleUser), string(genai.RoleModel), string(genai.RoleUser), string(genai.RoleModel)}
	for i, c := range got {
		if c.Role != wantRoles[i] {
			t.Fatalf("contents[%d].Role=%q, want %q", i, c.Role, wantRoles[i])
		}
	}
	if len(got[2].Parts) != 2 || got[2].Parts[1].Text != "are you there" {
		t.Fatalf("consecutive user turns were not merged: %+v", got[2].Parts)
	}
}

func TestGemini_Complete(t *testing.T) {
	var path, key string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"We open at 8am."}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), GeminiConfig{APIKey: "g-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	text, err := g.Complete(context.Background(), Request{
		System:   "You are Acme.",
		Messages: []Message{{Role: RoleUser, Content: "what are your hours"}},
		Model:    "gemini-2.0-flash",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "We open at 8am." {
		t.Fatalf("text=%q", text)
	}
	if !strings.HasSuffix(path, "/models/gemini-2.0-flash:generateContent") {
		t.Fatalf("path=%q", path)
	}
	if key != "g-key" {
		t.Fatalf("x-goog-api-key=%q", key)
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Fatalf("request is missing systemInstruction: %v", body)
	}
}
