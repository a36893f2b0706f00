// Package threading keeps every conversation a chronological singly linked
// chain: the first message has no parent and each later message points at the
// message created immediately before it.
//
// The "latest message" lookup followed by an insert is a read-then-write, so
// callers must hold the conversation's Locker entry for the whole sequence.
// The unique (conversation_id, seq) index turns any violation of that
// discipline into an insert error instead of a forked chain.
package threading

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/repo"
)

// Linker resolves and repairs parent links. Methods take a *gorm.DB so they
// run inside the caller's transaction.
type Linker struct {
	Log zerolog.Logger
	Now func() time.Time
}

// NewLinker returns a Linker using the global logger and the wall clock.
func NewLinker() *Linker {
	return &Linker{Log: log.Logger, Now: time.Now}
}

func (l *Linker) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

// ResolveParent sets m.ParentMessageID. A supplied parent that exists in the
// conversation is honored as-is. A supplied parent that does not exist is
// replaced by the latest message and logged as a thread integrity warning.
// Without a supplied parent the latest message is used, or nil when the
// conversation is empty.
func (l *Linker) ResolveParent(ctx context.Context, db *gorm.DB, conversationID string, m *domain.Message) (*domain.Message, error) {
	m.ConversationID = conversationID

	if pid := m.ParentID(); pid != "" {
		ok, err := repo.MessageExists(ctx, db, conversationID, pid)
		if err != nil {
			return nil, err
		}
		if ok {
			return m, nil
		}
		threadWarnings.Inc()
		l.Log.Warn().
			Str("conversation_id", conversationID).
			Str("parent_message_id", pid).
			Msg("thread integrity: supplied parent not found, using latest message")
	}

	latest, err := repo.LatestMessage(ctx, db, conversationID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		m.ParentMessageID = nil
		return m, nil
	}
	id := latest.ID
	m.ParentMessageID = &id
	return m, nil
}

// Append resolves the parent, assigns the next seq and inserts m.
//
// CreatedAt never goes backwards within a conversation: if the clock reads
// earlier than the latest message, the latest timestamp is reused and seq
// orders the tie.
func (l *Linker) Append(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	if _, err := l.ResolveParent(ctx, db, m.ConversationID, m); err != nil {
		return nil, err
	}

	seq, err := repo.NextSeq(ctx, db, m.ConversationID)
	if err != nil {
		return nil, err
	}
	m.Seq = seq

	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.now()
	}
	if latest, err := repo.LatestMessage(ctx, db, m.ConversationID); err != nil {
		return nil, err
	} else if latest != nil && m.CreatedAt.Before(latest.CreatedAt) {
		m.CreatedAt = latest.CreatedAt
	}
	m.UpdatedAt = m.CreatedAt

	if err := repo.CreateMessage(ctx, db, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RepairParent links an orphaned message to the nearest earlier message in
// its conversation. Messages that already have a parent, and genuinely first
// messages, are returned unchanged.
func (l *Linker) RepairParent(ctx context.Context, db *gorm.DB, conversationID, messageID string) (*domain.Message, error) {
	m, err := repo.GetMessage(ctx, db, messageID)
	if err != nil {
		return nil, err
	}
	if m.ConversationID != conversationID {
		return nil, repo.ErrNotFound
	}
	if _, err := l.repair(ctx, db, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RepairConversation backfills every orphaned message in a conversation and
// returns how many links were written.
func (l *Linker) RepairConversation(ctx context.Context, db *gorm.DB, conversationID string) (int, error) {
	orphans, err := repo.ListOrphanMessages(ctx, db, conversationID)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for i := range orphans {
		changed, err := l.repair(ctx, db, &orphans[i])
		if err != nil {
			return fixed, err
		}
		if changed {
			fixed++
		}
	}
	if fixed > 0 {
		threadRepairs.Add(float64(fixed))
		l.Log.Info().Str("conversation_id", conversationID).Int("fixed", fixed).Msg("thread repaired")
	}
	return fixed, nil
}

// repair sets m's parent in place when it is missing and an earlier message
// exists. It reports whether a link was written.
func (l *Linker) repair(ctx context.Context, db *gorm.DB, m *domain.Message) (bool, error) {
	if m.ParentMessageID != nil {
		return false, nil
	}
	prev, err := repo.LatestMessageBefore(ctx, db, m)
	if err != nil || prev == nil {
		return false, err
	}
	if err := repo.SetParent(ctx, db, m.ID, prev.ID); err != nil {
		return false, err
	}
	id := prev.ID
	m.ParentMessageID = &id
	return true, nil
}
