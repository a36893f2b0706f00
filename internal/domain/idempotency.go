package domain

import "time"

// Idempotency represents a recorded result of a previously processed message
// send, keyed by (user_id, conversation_id, key). Retries with the same key
// replay the stored assistant message instead of generating (and charging
// quota for) a second reply.
type Idempotency struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	UserID         string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_conversation_key,priority:1"`
	ConversationID string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_conversation_key,priority:2"`
	Key            string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_conversation_key,priority:3"`
	MessageID      string    `gorm:"type:varchar(36);not null"`
	Status         int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
