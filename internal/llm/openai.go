package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Defaults applied when neither the request nor the client config sets a value.
const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 1024
)

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional; e.g. a proxy or a compatible server
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client   *openai.Client
	defaults Options
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		oc.BaseURL = base
	}

	def := Options{Model: cfg.Model, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	if def.Model == "" {
		def.Model = DefaultModel
	}
	if def.MaxTokens <= 0 {
		def.MaxTokens = DefaultMaxTokens
	}

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(oc),
		defaults: def,
	}, nil
}

// Complete sends prompt as a single user turn.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	return c.Chat(ctx, []ChatMessage{{Role: RoleUser, Content: prompt}}, opts)
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, msgs []ChatMessage, opts Options) (*Completion, error) {
	start := time.Now()
	opts = c.merge(opts)

	// Convert messages to OpenAI format
	messages := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		messages[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	model := resp.Model
	if model == "" {
		model = opts.Model
	}
	return &Completion{
		Content:      strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:        model,
		TokensIn:     resp.Usage.PromptTokens,
		TokensOut:    resp.Usage.CompletionTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (c *OpenAIClient) merge(o Options) Options {
	if o.Model == "" {
		o.Model = c.defaults.Model
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = c.defaults.MaxTokens
	}
	if o.Temperature == 0 {
		o.Temperature = c.defaults.Temperature
	}
	return o
}
