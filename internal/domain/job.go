package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Queue names.
const (
	QueueAIGeneration    = "ai-generation"
	QueueWebhookDelivery = "webhook-delivery"
)

// ContextMessage is a prior turn carried inside a job's generation context.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationContext is the snapshot a generation job runs against.
type GenerationContext struct {
	PreviousMessages []ContextMessage    `json:"previous_messages,omitempty"`
	Assessment       *AssessmentSnapshot `json:"assessment,omitempty"`
}

// GenerationOptions tunes a single generation call. Zero values fall back to
// the configured defaults.
type GenerationOptions struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Job is a durable unit of work in one of the named queues. AI generation jobs
// carry a prompt and context; webhook jobs carry a Payload and a WebhookURL.
//
// Status transitions: waiting -> active -> completed | failed. A failed attempt
// with attempts remaining moves the job back to waiting with RunAt pushed out
// by the queue's backoff.
type Job struct {
	ID             string                                `json:"id"                        gorm:"type:char(36);primaryKey"`
	Queue          string                                `json:"queue"                     gorm:"type:varchar(64);not null;index:idx_jobs_runnable,priority:1"`
	Status         JobStatus                             `json:"status"                    gorm:"type:varchar(16);not null;index:idx_jobs_runnable,priority:2"`
	RunAt          time.Time                             `json:"run_at"                    gorm:"not null;index:idx_jobs_runnable,priority:3"`
	ConversationID string                                `json:"conversation_id,omitempty" gorm:"type:varchar(36);index"`
	UserID         string                                `json:"user_id"                   gorm:"type:varchar(64);not null;default:''"`
	AssessmentID   *string                               `json:"assessment_id,omitempty"   gorm:"type:varchar(64)"`
	Prompt         string                                `json:"prompt,omitempty"          gorm:"type:text"`
	Context        datatypes.JSONType[GenerationContext] `json:"context"`
	Options        datatypes.JSONType[GenerationOptions] `json:"options"`
	WebhookURL     string                                `json:"webhook_url,omitempty"     gorm:"type:varchar(2048)"`
	Payload        datatypes.JSON                        `json:"payload,omitempty"`
	Result         datatypes.JSON                        `json:"result,omitempty"`
	AttemptsMade   int                                   `json:"attempts_made"             gorm:"not null;default:0"`
	MaxAttempts    int                                   `json:"max_attempts"              gorm:"not null;default:1"`
	LastError      string                                `json:"last_error,omitempty"      gorm:"type:text"`
	CreatedAt      time.Time                             `json:"created_at"`
	UpdatedAt      time.Time                             `json:"updated_at"`
	FinishedAt     *time.Time                            `json:"finished_at,omitempty"     gorm:"index"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// JobFailure is the persisted record of a job that exhausted its attempts.
type JobFailure struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	JobID          string    `json:"job_id"          gorm:"type:char(36);not null;index"`
	Queue          string    `json:"queue"           gorm:"type:varchar(64);not null"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);index"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error"           gorm:"type:text;not null"`
	Stack          string    `json:"stack,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for JobFailure.
func (JobFailure) TableName() string { return "job_failures" }

// WebhookPayload is the JSON body POSTed to a job's webhook URL.
type WebhookPayload struct {
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
	Result         any    `json:"result"`
}

// GenerationResult is stored as the result of a completed AI generation job
// and forwarded to webhooks.
type GenerationResult struct {
	UserMessageID      string          `json:"user_message_id"`
	AssistantMessageID string          `json:"assistant_message_id"`
	Content            string          `json:"content"`
	Metadata           MessageMetadata `json:"metadata"`
}
