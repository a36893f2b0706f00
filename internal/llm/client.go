// Package llm is the boundary to the single external generation endpoint.
// It offers a one-shot completion for opening a conversation and a
// multi-turn chat call for follow-ups, both reporting token usage.
package llm

import (
	"context"
	"errors"
)

// Chat roles understood by the endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when the endpoint answers without content.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("llm: endpoint not configured")

// ChatMessage is one turn of a chat history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single request. Zero values use the client defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completion is a successful endpoint response.
type Completion struct {
	Content      string
	Model        string
	TokensIn     int
	TokensOut    int
	FinishReason string
	LatencyMs    int64
}

// TotalTokens returns prompt plus completion tokens.
func (c *Completion) TotalTokens() int {
	if c == nil {
		return 0
	}
	return c.TokensIn + c.TokensOut
}

// Client is implemented by generation endpoints.
type Client interface {
	// Complete sends a single combined prompt.
	Complete(ctx context.Context, prompt string, opts Options) (*Completion, error)

	// Chat sends an ordered chat history.
	Chat(ctx context.Context, messages []ChatMessage, opts Options) (*Completion, error)
}

// Unconfigured stands in when no API key is set. Every call fails, so
// generation always takes the fallback path and never spends quota.
type Unconfigured struct{}

func (Unconfigured) Complete(context.Context, string, Options) (*Completion, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) Chat(context.Context, []ChatMessage, Options) (*Completion, error) {
	return nil, ErrNotConfigured
}
