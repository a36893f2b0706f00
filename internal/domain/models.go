// Package domain defines the persistence models for conversations, threaded
// messages, and generation jobs. These types are mapped with GORM and form the
// core data layer of the assessment chat backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether r is one of the supported message roles.
func ValidRole(r string) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Conversation is a named thread of messages owned by exactly one user and
// optionally bound to one assessment.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owner of the conversation; indexed for listing.
//   - AssessmentID: optional assessment context. Immutable once set.
//   - Title: generated from the first user message when left empty.
//   - Preview: short excerpt of the latest assistant reply. Only assistant
//     inserts change it.
//   - CreatedAt / UpdatedAt: timestamps; UpdatedAt moves on every new message.
type Conversation struct {
	ID           string    `json:"id"                      gorm:"type:char(36);primaryKey"`
	UserID       string    `json:"user_id"                 gorm:"type:varchar(64);not null;index:idx_user_conversations"`
	AssessmentID *string   `json:"assessment_id,omitempty" gorm:"type:varchar(64)"`
	Title        string    `json:"title"                   gorm:"type:varchar(255);not null;default:'New conversation'"`
	Preview      string    `json:"preview"                 gorm:"type:varchar(255);not null;default:''"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"              gorm:"index:idx_user_conversations"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// MessageMetadata carries generation statistics for assistant messages.
type MessageMetadata struct {
	TokensUsed     int     `json:"tokens_used,omitempty"`
	ResponseTimeMs int64   `json:"response_time_ms,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Fallback       bool    `json:"fallback,omitempty"`
	Model          string  `json:"model,omitempty"`
	JobID          string  `json:"job_id,omitempty"`
}

// Message is a single turn within a conversation. Messages form a singly
// linked chronological chain: the first message has no parent and every later
// message points at the message created immediately before it.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: owning conversation (cascade delete).
//   - Seq: insertion order within the conversation; breaks CreatedAt ties and
//     is unique per conversation so two writers cannot claim the same slot.
//   - Role: "user", "assistant" or "system".
//   - ParentMessageID: the immediately preceding message, nil for the first.
//   - Metadata: generation stats (assistant messages only).
type Message struct {
	ID              string                              `json:"id"                          gorm:"type:char(36);primaryKey"`
	ConversationID  string                              `json:"conversation_id"             gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1;uniqueIndex:ux_conversation_seq,priority:1"`
	Seq             int64                               `json:"seq"                         gorm:"not null;uniqueIndex:ux_conversation_seq,priority:2"`
	Role            string                              `json:"role"                        gorm:"type:varchar(16);not null;check:role IN ('user','assistant','system')"`
	Content         string                              `json:"content"                     gorm:"type:text;not null"`
	ParentMessageID *string                             `json:"parent_message_id"           gorm:"type:char(36);index"`
	Metadata        datatypes.JSONType[MessageMetadata] `json:"metadata"`
	CreatedAt       time.Time                           `json:"created_at"                  gorm:"index:idx_conversation_msgs,priority:2"`
	UpdatedAt       time.Time                           `json:"updated_at"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "chat_messages" }

// Meta returns the decoded metadata.
func (m *Message) Meta() MessageMetadata { return m.Metadata.Data() }

// ParentID returns the parent id or "" when the message is first in its thread.
func (m *Message) ParentID() string {
	if m == nil || m.ParentMessageID == nil {
		return ""
	}
	return *m.ParentMessageID
}
