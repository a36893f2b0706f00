// Package services – JobService
//
// JobService is the entry point of the asynchronous generation path. It
// validates the request, snapshots the conversation context at enqueue time
// and hands the job to the ai-generation queue. The worker later persists the
// exchange through ConversationService.
package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/prompt"
	"github.com/tbourn/assessment-chat/internal/repo"
)

// Enqueuer persists a job into a queue. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *domain.Job) (string, error)
}

// GenerateJobRequest asks for a reply to be generated in the background.
type GenerateJobRequest struct {
	UserID         string
	ConversationID string
	AssessmentID   *string
	Assessment     *domain.AssessmentSnapshot
	Prompt         string
	Options        domain.GenerationOptions
	WebhookURL     string
}

// JobService enqueues and inspects generation jobs.
type JobService struct {
	DB            *gorm.DB
	Conversations *ConversationService
	Queue         Enqueuer
	MaxHistory    int
	Log           zerolog.Logger
}

// NewJobService wires a JobService onto the ai-generation queue.
func NewJobService(db *gorm.DB, conversations *ConversationService, q Enqueuer) *JobService {
	return &JobService{
		DB:            db,
		Conversations: conversations,
		Queue:         q,
		MaxHistory:    prompt.DefaultMaxHistory,
		Log:           log.Logger,
	}
}

// EnqueueGeneration validates req, captures the prior messages and assessment
// snapshot, and enqueues an ai-generation job. A job without a conversation
// creates one when it completes.
func (s *JobService) EnqueueGeneration(ctx context.Context, req GenerateJobRequest) (*domain.Job, error) {
	tr := otel.Tracer("services/JobService")
	ctx, span := tr.Start(ctx, "EnqueueGeneration",
		trace.WithAttributes(
			attribute.String("conversation.id", req.ConversationID),
			attribute.String("user.id", req.UserID),
		),
	)
	defer span.End()

	content, err := s.Conversations.validateContent(req.Prompt)
	if err != nil {
		return nil, err
	}
	if err := validateWebhookURL(req.WebhookURL); err != nil {
		return nil, err
	}

	gctx := domain.GenerationContext{Assessment: req.Assessment}
	assessmentID := req.AssessmentID
	if req.ConversationID != "" {
		conv, err := s.Conversations.authorize(ctx, req.UserID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		prior, err := repo.ListRecentMessages(ctx, s.DB, conv.ID, s.maxHistory())
		if err != nil {
			return nil, persistence("load history", err)
		}
		gctx.PreviousMessages = toContext(prior)
		if assessmentID == nil {
			assessmentID = conv.AssessmentID
		}
		if gctx.Assessment == nil {
			gctx.Assessment, _ = s.Conversations.snapshot(ctx, conv, nil)
		}
	} else if gctx.Assessment == nil && assessmentID != nil && s.Conversations.Assessments != nil {
		a, err := s.Conversations.Assessments.GetAssessment(ctx, req.UserID, *assessmentID)
		if err != nil {
			s.Log.Warn().Err(err).Str("assessment_id", *assessmentID).Msg("assessment lookup failed")
		}
		gctx.Assessment = a
	}

	j := &domain.Job{
		Queue:          domain.QueueAIGeneration,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		AssessmentID:   assessmentID,
		Prompt:         content,
		Context:        datatypes.NewJSONType(gctx),
		Options:        datatypes.NewJSONType(req.Options),
		WebhookURL:     strings.TrimSpace(req.WebhookURL),
	}
	if _, err := s.Queue.Enqueue(ctx, j); err != nil {
		span.RecordError(err)
		return nil, persistence("enqueue job", err)
	}
	span.SetAttributes(attribute.String("job.id", j.ID))
	s.Log.Info().
		Str("job_id", j.ID).
		Str("conversation_id", j.ConversationID).
		Bool("webhook", j.WebhookURL != "").
		Msg("generation job enqueued")
	return j, nil
}

// GetJob returns a job owned by userID.
func (s *JobService) GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	j, err := repo.GetJob(ctx, s.DB, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, persistence("get job", err)
	}
	if j.UserID != userID {
		return nil, ErrOwnershipViolation
	}
	return j, nil
}

func (s *JobService) maxHistory() int {
	if s.MaxHistory <= 0 {
		return prompt.DefaultMaxHistory
	}
	return s.MaxHistory
}

func validateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidWebhookURL
	}
	return nil
}
