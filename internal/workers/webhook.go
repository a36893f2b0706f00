package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/queue"
)

// DefaultWebhookTimeout bounds one delivery attempt.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookDelivery POSTs a job's JSON payload to its webhook URL. Any non-2xx
// response is an error so the webhook queue retries it.
type WebhookDelivery struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
	Log       zerolog.Logger
}

// NewWebhookDelivery returns a handler with its own HTTP client.
func NewWebhookDelivery(timeout time.Duration) *WebhookDelivery {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookDelivery{
		Client:    &http.Client{Timeout: timeout},
		Timeout:   timeout,
		UserAgent: "assessment-chat-webhook/1",
		Log:       log.Logger,
	}
}

// WebhookResult is stored on a delivered webhook job.
type WebhookResult struct {
	StatusCode int `json:"status_code"`
}

// Handle delivers one attempt.
func (w *WebhookDelivery) Handle(ctx context.Context, job *domain.Job) (any, error) {
	if job.WebhookURL == "" {
		return nil, queue.Permanent(errors.New("webhook job has no url"))
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, job.WebhookURL, bytes.NewReader(job.Payload))
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.UserAgent)
	req.Header.Set("X-Webhook-Job-ID", job.ID)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(job.AttemptsMade))
	otel.GetTextMapPropagator().Inject(cctx, propagation.HeaderCarrier(req.Header))

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	w.Log.Debug().
		Str("job_id", job.ID).
		Str("conversation_id", job.ConversationID).
		Int("status", resp.StatusCode).
		Msg("webhook delivered")
	return WebhookResult{StatusCode: resp.StatusCode}, nil
}
