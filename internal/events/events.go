// Package events publishes job lifecycle events. With NATS_URL set they go to
// a JetStream stream on subjects chat.<conversation>.job.<status>; otherwise a
// no-op publisher is used.
package events

import (
	"context"
	"fmt"
	"time"
)

// Job lifecycle statuses carried in subjects.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SubjectPrefix is the first token of every subject.
const SubjectPrefix = "chat"

// JobEvent is the JSON body of a lifecycle event.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	Queue          string    `json:"queue"`
	Status         string    `json:"status"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher emits job events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close()
}

// Subject returns chat.<conversation>.job.<status>. Jobs that never reached a
// conversation use "_" as the conversation token.
func Subject(conversationID, status string) string {
	if conversationID == "" {
		conversationID = "_"
	}
	return fmt.Sprintf("%s.%s.job.%s", SubjectPrefix, conversationID, status)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, JobEvent) error { return nil }
func (Nop) Close()                                  {}
