package completion

import (
	"context"
	"fmt"
	"strings"
)

// Router sends each request to a backend chosen by model id: "gemini-*"
// goes to Gemini, everything else to the OpenAI-compatible backend.
type Router struct {
	defaultModel string
	openai       Completer
	gemini       Completer
}

func NewRouter(defaultModel string, openai, gemini Completer) *Router {
	return &Router{
		defaultModel: strings.TrimSpace(defaultModel),
		openai:       openai,
		gemini:       gemini,
	}
}

// Backend names the backend that serves model.
func Backend(model string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gemini-") {
		return "gemini"
	}
	return "openai"
}

func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		req.Model = r.defaultModel
	}
	if req.Model == "" {
		return "", fmt.Errorf("no model selected and no default model configured")
	}

	var backend Completer
	switch name := Backend(req.Model); name {
	case "gemini":
		backend = r.gemini
	case "openai":
		backend = r.openai
	}
	if backend == nil {
		return "", fmt.Errorf("no %s backend configured for model %q", Backend(req.Model), req.Model)
	}
	return backend.Complete(ctx, req)
}
