// Package llm provides the AI collaborator: provider implementations and a
// router that turns a list of chat messages into a reply.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CompletionRequest holds parameters for an LLM completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"` // Anthropic-style system prompt
}

// CompletionResponse holds the LLM's response.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	StopReason   string `json:"stop_reason"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "deepseek").
	Name() string

	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Sentinel error kinds. Every error returned by Router.Generate matches
// exactly one of them with errors.Is.
var (
	ErrAuthentication = errors.New("llm authentication failed")
	ErrGeneration     = errors.New("llm generation failed")
)

// ErrNoProvider is returned when the router has no providers.
var ErrNoProvider = &ProviderError{Message: "no provider configured", Kind: ErrGeneration}

// ProviderError represents an LLM provider error.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
	// Kind is ErrAuthentication or ErrGeneration.
	Kind error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the kind to errors.Is.
func (e *ProviderError) Unwrap() error {
	if e.Kind == nil {
		return ErrGeneration
	}
	return e.Kind
}

// kindForStatus classifies an HTTP status code.
func kindForStatus(status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return ErrAuthentication
	}
	return ErrGeneration
}

// Defaults sets request parameters the caller leaves empty.
type Defaults struct {
	MaxTokens   int
	Temperature float64
}

// Router sends requests to an ordered chain of providers, falling back to the
// next provider when one fails.
type Router struct {
	providers []Provider
	defaults  Defaults
}

// NewRouter creates a router. The first provider is primary.
func NewRouter(defaults Defaults, providers ...Provider) *Router {
	var ps []Provider
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Router{providers: ps, defaults: defaults}
}

// Generate sends messages (a leading "system" message becomes the system
// prompt) and returns the reply text. The returned error is always a
// *ProviderError of the last provider tried.
func (r *Router) Generate(ctx context.Context, messages []Message) (string, error) {
	if len(r.providers) == 0 {
		return "", ErrNoProvider
	}

	req := CompletionRequest{
		MaxTokens:   r.defaults.MaxTokens,
		Temperature: r.defaults.Temperature,
	}
	for _, m := range messages {
		if m.Role == "system" {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, m)
	}

	var lastErr error
	for i, p := range r.providers {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			slog.Info("llm response",
				"provider", p.Name(),
				"model", resp.Model,
				"input_tokens", resp.InputTokens,
				"output_tokens", resp.OutputTokens,
			)
			return resp.Content, nil
		}
		lastErr = asProviderError(p.Name(), err)
		if i < len(r.providers)-1 {
			slog.Warn("llm provider failed, falling back", "provider", p.Name(), "error", err)
		}
	}
	return "", lastErr
}

func asProviderError(name string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Message: err.Error(), Provider: name, Kind: ErrGeneration}
}
