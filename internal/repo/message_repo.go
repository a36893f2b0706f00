// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. Ordering is always (created_at, seq) so ties on the timestamp are
// broken by insertion order.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
)

// CreateMessage inserts m, filling ID and timestamps when unset. Parent and
// Seq are the caller's responsibility (see threading.Linker).
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	return db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageExists reports whether id names a message in conversationID.
func MessageExists(ctx context.Context, db *gorm.DB, conversationID, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND conversation_id = ?", id, conversationID).
		Count(&n).Error
	return n > 0, err
}

// LatestMessage returns the most recently created message in the
// conversation, or (nil, nil) when the conversation is empty.
func LatestMessage(ctx context.Context, db *gorm.DB, conversationID string) (*domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, seq DESC").
		Limit(1).
		Find(&out).Error
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// LatestMessageBefore returns the nearest message created before m in the
// same conversation, or (nil, nil) when m is first.
func LatestMessageBefore(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND id <> ?", m.ConversationID, m.ID).
		Where("created_at < ? OR (created_at = ? AND seq < ?)", m.CreatedAt, m.CreatedAt, m.Seq).
		Order("created_at DESC, seq DESC").
		Limit(1).
		Find(&out).Error
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// NextSeq returns the next free sequence number for the conversation.
func NextSeq(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var maxSeq int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	return maxSeq + 1, err
}

// ListMessages returns every message in chronological order.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, seq ASC").
		Find(&out).Error
	return out, err
}

// ListRecentMessages returns up to n of the newest messages, oldest first.
func ListRecentMessages(ctx context.Context, db *gorm.DB, conversationID string, n int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, seq DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM chat_messages WHERE conversation_id = ?", conversationID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice in chronological order.
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListOrphanMessages returns messages with no parent, oldest first.
func ListOrphanMessages(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND parent_message_id IS NULL", conversationID).
		Order("created_at ASC, seq ASC").
		Find(&out).Error
	return out, err
}

// SetParent links message id to parentID.
func SetParent(ctx context.Context, db *gorm.DB, id, parentID string) error {
	return updateMessage(ctx, db, id, map[string]any{"parent_message_id": parentID})
}

// UpdateMessageContent rewrites a message body.
func UpdateMessageContent(ctx context.Context, db *gorm.DB, id, content string) error {
	return updateMessage(ctx, db, id, map[string]any{
		"content":    content,
		"updated_at": time.Now().UTC(),
	})
}

func updateMessage(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).UpdateColumns(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessagesAfter removes every message in the conversation that comes
// after m in thread order and returns how many were deleted.
func DeleteMessagesAfter(ctx context.Context, db *gorm.DB, m *domain.Message) (int64, error) {
	res := db.WithContext(ctx).
		Where("conversation_id = ? AND id <> ?", m.ConversationID, m.ID).
		Where("created_at > ? OR (created_at = ? AND seq > ?)", m.CreatedAt, m.CreatedAt, m.Seq).
		Delete(&domain.Message{})
	return res.RowsAffected, res.Error
}
