package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
)

// ConversationsStats returns how many conversations userID owns and the most
// recent UpdatedAt among them. Sends and edits bump the conversation, so the
// pair changes whenever a listing page would. maxUpdatedAt is nil when the
// user has none.
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return freshness(db.WithContext(ctx).Model(&domain.Conversation{}).Where("user_id = ?", userID))
}

// MessagesStats returns the message count and latest UpdatedAt for a
// conversation. Edits move UpdatedAt and truncation lowers the count.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return freshness(db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID))
}

// freshness counts the rows matched by q and reads the newest updated_at.
// The newest row is read by ordering instead of MAX() because SQLite returns
// MAX over a datetime column as TEXT.
func freshness(q *gorm.DB) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct{ UpdatedAt time.Time }
	if err := q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
