// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Ownership rules live in the services
// package, which is why lookups here are by id only.
//
// Error semantics:
//   - When a conversation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts a new Conversation owned by userID, optionally
// bound to assessmentID. The ID is a random UUID and timestamps are UTC.
func CreateConversation(ctx context.Context, db *gorm.DB, userID string, assessmentID *string, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		AssessmentID: assessmentID,
		Title:        title,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by id regardless of owner. Callers
// compare UserID themselves so that "missing" and "not yours" stay distinct.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the number of conversations owned by userID.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of the user's conversations, most
// recently active first.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListConversationIDs pages through every conversation id in ascending order,
// starting after afterID. Used by maintenance jobs such as thread repair.
func ListConversationIDs(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]string, error) {
	var ids []string
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Order("id asc").Limit(limit)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// TouchConversation bumps updated_at without changing the preview.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return updateConversation(ctx, db, id, map[string]any{"updated_at": at.UTC()})
}

// UpdatePreview sets the denormalized preview and bumps updated_at.
func UpdatePreview(ctx context.Context, db *gorm.DB, id, preview string, at time.Time) error {
	return updateConversation(ctx, db, id, map[string]any{
		"preview":    preview,
		"updated_at": at.UTC(),
	})
}

// UpdateConversationTitle replaces the title.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, title string) error {
	return updateConversation(ctx, db, id, map[string]any{"title": title})
}

func updateConversation(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		UpdateColumns(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation owned by userID together with its
// messages. Messages are deleted explicitly so the cascade does not depend on
// the driver enforcing foreign keys.
func DeleteConversation(ctx context.Context, db *gorm.DB, id, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&domain.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
