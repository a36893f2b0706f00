// Package generation wraps the external generation endpoint with the daily
// quota and a deterministic fallback.
//
// Two entry points share the same quota check and success path:
//
//   - Generate absorbs every generation failure into a fallback reply. The
//     synchronous request path uses it so there is always content to persist.
//   - TryGenerate returns ErrGenerationFailed instead, so the asynchronous
//     worker can let its queue retry with backoff.
//
// Both return ratelimit.ErrRateLimitExceeded without touching the network
// when the quota is exhausted. Quota is only consumed after a successful call.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/llm"
	"github.com/tbourn/assessment-chat/internal/ratelimit"
)

// ErrGenerationFailed wraps any endpoint failure surfaced by TryGenerate.
var ErrGenerationFailed = errors.New("generation failed")

// Confidence scores attached to results.
const (
	SuccessConfidence  = 0.85
	FallbackConfidence = 0.5
)

// DefaultTimeout bounds a single endpoint call.
const DefaultTimeout = 30 * time.Second

// Quota is the subset of ratelimit.DailyQuota the client needs.
type Quota interface {
	CanMakeCall(ctx context.Context) (bool, error)
	IncrementCallCount(ctx context.Context) error
}

// Request describes one generation. Exactly one of Prompt (initial
// conversation, single combined prompt) or History (follow-up) is set.
type Request struct {
	Prompt          string
	History         []llm.ChatMessage
	LastUserMessage string
	Options         domain.GenerationOptions
}

// IsFollowUp reports whether the request carries a chat history.
func (r Request) IsFollowUp() bool { return len(r.History) > 0 }

// Result is the content to persist plus its generation stats.
type Result struct {
	Content  string
	Metadata domain.MessageMetadata
}

// Client is safe for concurrent use.
type Client struct {
	LLM     llm.Client
	Quota   Quota
	Timeout time.Duration
	Log     zerolog.Logger
}

// NewClient wires an endpoint and a quota with the default timeout.
func NewClient(endpoint llm.Client, quota Quota, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{LLM: endpoint, Quota: quota, Timeout: timeout, Log: log.Logger}
}

// Generate returns generated content, or a fallback when the endpoint fails.
// Only ErrRateLimitExceeded is returned as an error.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	res, err := c.TryGenerate(ctx, req)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		return nil, err
	}

	c.Log.Warn().Err(err).Bool("follow_up", req.IsFollowUp()).Msg("generation failed, using fallback")
	genRequests.WithLabelValues(outcomeFallback).Inc()
	return Fallback(req), nil
}

// TryGenerate is Generate without the fallback: endpoint failures come back
// wrapped in ErrGenerationFailed.
func (c *Client) TryGenerate(ctx context.Context, req Request) (*Result, error) {
	tr := otel.Tracer("generation/Client")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.Bool("generation.follow_up", req.IsFollowUp()),
			attribute.Int("generation.history_len", len(req.History)),
		),
	)
	defer span.End()

	ok, err := c.Quota.CanMakeCall(ctx)
	if err != nil {
		genRequests.WithLabelValues(outcomeError).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("%w: quota check: %v", ErrGenerationFailed, err)
	}
	if !ok {
		genRequests.WithLabelValues(outcomeRateLimited).Inc()
		span.SetStatus(codes.Error, "rate limited")
		return nil, ratelimit.ErrRateLimitExceeded
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := llm.Options{
		Model:       req.Options.Model,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
	}

	start := time.Now()
	var out *llm.Completion
	if req.IsFollowUp() {
		out, err = c.LLM.Chat(cctx, req.History, opts)
	} else {
		out, err = c.LLM.Complete(cctx, req.Prompt, opts)
	}
	elapsed := time.Since(start)
	genDuration.Observe(elapsed.Seconds())

	if err == nil && (out == nil || strings.TrimSpace(out.Content) == "") {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		genRequests.WithLabelValues(outcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	// Charge quota only for a confirmed successful call.
	if ierr := c.Quota.IncrementCallCount(ctx); ierr != nil {
		c.Log.Error().Err(ierr).Msg("quota increment failed")
	}

	tokens := out.TotalTokens()
	genRequests.WithLabelValues(outcomeSuccess).Inc()
	genTokens.Add(float64(tokens))
	span.SetAttributes(attribute.Int("generation.tokens", tokens))

	return &Result{
		Content: strings.TrimSpace(out.Content),
		Metadata: domain.MessageMetadata{
			TokensUsed:     tokens,
			ResponseTimeMs: elapsed.Milliseconds(),
			Confidence:     SuccessConfidence,
			Model:          out.Model,
		},
	}, nil
}
