// Package workers holds the queue handlers: background generation and webhook
// delivery.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/generation"
	"github.com/tbourn/assessment-chat/internal/prompt"
	"github.com/tbourn/assessment-chat/internal/queue"
	"github.com/tbourn/assessment-chat/internal/ratelimit"
	"github.com/tbourn/assessment-chat/internal/repo"
	"github.com/tbourn/assessment-chat/internal/services"
)

// Generator is the non-falling-back generation call; failures must surface so
// the queue can retry. *generation.Client satisfies it.
type Generator interface {
	TryGenerate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// ResetClock tells when the generation quota refills.
// *ratelimit.DailyQuota satisfies it.
type ResetClock interface {
	NextReset() time.Time
}

// AIGeneration handles ai-generation jobs.
type AIGeneration struct {
	DB            *gorm.DB
	Conversations *services.ConversationService
	Gen           Generator
	Quota         ResetClock
	Webhooks      services.Enqueuer
	MaxHistory    int
	Log           zerolog.Logger
}

// NewAIGeneration wires the handler. webhooks may be nil when no job carries
// a webhook URL.
func NewAIGeneration(db *gorm.DB, conversations *services.ConversationService, gen Generator, quota ResetClock, webhooks services.Enqueuer) *AIGeneration {
	return &AIGeneration{
		DB:            db,
		Conversations: conversations,
		Gen:           gen,
		Quota:         quota,
		Webhooks:      webhooks,
		MaxHistory:    prompt.DefaultMaxHistory,
		Log:           log.Logger,
	}
}

// Handle runs one attempt: build prompt -> generate -> persist -> notify.
//
// A job without a conversation gets one only when its reply is stored, so
// failed and deferred attempts leave nothing behind. The new id is written
// to the job in the same transaction and later attempts reuse it.
//
// An exhausted quota defers the job until the next reset instead of spending
// an attempt. A conversation deleted since enqueue fails the job outright.
func (w *AIGeneration) Handle(ctx context.Context, job *domain.Job) (any, error) {
	lg := w.Log.With().Str("job_id", job.ID).Int("attempt", job.AttemptsMade).Logger()

	if job.ConversationID != "" {
		if _, err := repo.GetConversation(ctx, w.DB, job.ConversationID); errors.Is(err, repo.ErrNotFound) {
			return nil, queue.Permanent(services.ErrConversationNotFound)
		} else if err != nil {
			return nil, err
		}
	}

	gctx := job.Context.Data()
	req := services.BuildGenerationRequest(gctx.Assessment, gctx.PreviousMessages, job.Prompt, w.maxHistory(), job.Options.Data())

	res, err := w.Gen.TryGenerate(ctx, req)
	if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		return nil, queue.Defer(w.Quota.NextReset(), err)
	}
	if err != nil {
		return nil, err
	}
	res.Metadata.JobID = job.ID

	var ex *services.Exchange
	if job.ConversationID == "" {
		ex, err = w.Conversations.StartExchange(ctx, job.UserID, job.AssessmentID, job.ID, job.Prompt, res)
		if err == nil {
			job.ConversationID = ex.Conversation.ID
			lg.Debug().Str("conversation_id", job.ConversationID).Msg("conversation created for job")
		}
	} else {
		ex, err = w.Conversations.RecordExchange(ctx, job.ConversationID, job.Prompt, res)
	}
	if errors.Is(err, services.ErrConversationNotFound) {
		return nil, queue.Permanent(err)
	}
	if err != nil {
		return nil, err
	}

	out := domain.GenerationResult{
		UserMessageID:      ex.UserMessage.ID,
		AssistantMessageID: ex.AssistantMessage.ID,
		Content:            ex.AssistantMessage.Content,
		Metadata:           res.Metadata,
	}
	if job.WebhookURL != "" {
		// The exchange is already stored; a retry here would duplicate it,
		// so a lost notification is only logged.
		if err := enqueueWebhook(ctx, w.Webhooks, job, "completed", out); err != nil {
			lg.Error().Err(err).Msg("completion webhook not enqueued")
		}
	}
	return out, nil
}

func (w *AIGeneration) maxHistory() int {
	if w.MaxHistory <= 0 {
		return prompt.DefaultMaxHistory
	}
	return w.MaxHistory
}

// FailureWebhook returns a terminal hook that notifies a job's webhook that
// generation failed for good.
func FailureWebhook(webhooks services.Enqueuer, l zerolog.Logger) queue.TerminalHook {
	return func(ctx context.Context, job *domain.Job, cause error) {
		if job.WebhookURL == "" {
			return
		}
		result := map[string]string{"job_id": job.ID, "error": cause.Error()}
		if err := enqueueWebhook(ctx, webhooks, job, "failed", result); err != nil {
			l.Error().Err(err).Str("job_id", job.ID).Msg("failure webhook not enqueued")
		}
	}
}

func enqueueWebhook(ctx context.Context, webhooks services.Enqueuer, job *domain.Job, status string, result any) error {
	if webhooks == nil {
		return errors.New("no webhook queue configured")
	}
	body, err := json.Marshal(domain.WebhookPayload{
		ConversationID: job.ConversationID,
		Status:         status,
		Result:         result,
	})
	if err != nil {
		return err
	}
	_, err = webhooks.Enqueue(ctx, &domain.Job{
		ConversationID: job.ConversationID,
		UserID:         job.UserID,
		WebhookURL:     job.WebhookURL,
		Payload:        body,
	})
	return err
}
