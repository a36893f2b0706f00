// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the durable job table used by the queue
// package: enqueue, claim, and the terminal transitions.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/assessment-chat/internal/domain"
)

// CreateJob inserts j as waiting. ID, RunAt and timestamps are filled when unset.
func CreateJob(ctx context.Context, db *gorm.DB, j *domain.Job) error {
	now := time.Now().UTC()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = domain.JobWaiting
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = j.CreatedAt
	return db.WithContext(ctx).Create(j).Error
}

// GetJob fetches a job by ID.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ClaimNextJob atomically moves the oldest runnable job of queue to active and
// increments its attempt counter. It returns (nil, nil) when nothing is due.
//
// On Postgres the candidate row is locked with FOR UPDATE SKIP LOCKED so
// several workers can claim concurrently. SQLite serializes writers, and the
// status guard in the UPDATE covers the remaining race.
func ClaimNextJob(ctx context.Context, db *gorm.DB, queue string, now time.Time) (*domain.Job, error) {
	var claimed *domain.Job
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("queue = ? AND status = ? AND run_at <= ?", queue, domain.JobWaiting, now.UTC()).
			Order("run_at ASC, created_at ASC").
			Limit(1)
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var rows []domain.Job
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		j := rows[0]

		res := tx.Model(&domain.Job{}).
			Where("id = ? AND status = ?", j.ID, domain.JobWaiting).
			UpdateColumns(map[string]any{
				"status":        domain.JobActive,
				"attempts_made": gorm.Expr("attempts_made + 1"),
				"updated_at":    now.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		j.Status = domain.JobActive
		j.AttemptsMade++
		j.UpdatedAt = now.UTC()
		claimed = &j
		return nil
	})
	return claimed, err
}

// CompleteJob marks id completed and stores result.
func CompleteJob(ctx context.Context, db *gorm.DB, id string, result datatypes.JSON, now time.Time) error {
	at := now.UTC()
	return updateJob(ctx, db, id, map[string]any{
		"status":      domain.JobCompleted,
		"result":      result,
		"last_error":  "",
		"finished_at": &at,
		"updated_at":  at,
	})
}

// RetryJob puts id back to waiting until runAt, recording the failure reason.
func RetryJob(ctx context.Context, db *gorm.DB, id, lastErr string, runAt, now time.Time) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":     domain.JobWaiting,
		"last_error": lastErr,
		"run_at":     runAt.UTC(),
		"updated_at": now.UTC(),
	})
}

// DeferJob puts id back to waiting until runAt and refunds the attempt the
// claim consumed.
func DeferJob(ctx context.Context, db *gorm.DB, id, reason string, runAt, now time.Time) error {
	return updateJob(ctx, db, id, map[string]any{
		"status":        domain.JobWaiting,
		"attempts_made": gorm.Expr("CASE WHEN attempts_made > 0 THEN attempts_made - 1 ELSE 0 END"),
		"last_error":    reason,
		"run_at":        runAt.UTC(),
		"updated_at":    now.UTC(),
	})
}

// FailJob marks id terminally failed.
func FailJob(ctx context.Context, db *gorm.DB, id, lastErr string, now time.Time) error {
	at := now.UTC()
	return updateJob(ctx, db, id, map[string]any{
		"status":      domain.JobFailed,
		"last_error":  lastErr,
		"finished_at": &at,
		"updated_at":  at,
	})
}

// SetJobConversation records the conversation a job ended up writing to.
func SetJobConversation(ctx context.Context, db *gorm.DB, id, conversationID string) error {
	return updateJob(ctx, db, id, map[string]any{"conversation_id": conversationID})
}

func updateJob(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).UpdateColumns(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateJobFailure persists a terminal failure record.
func CreateJobFailure(ctx context.Context, db *gorm.DB, f *domain.JobFailure) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(f).Error
}

// ListJobFailures returns the failure records for a job, oldest first.
func ListJobFailures(ctx context.Context, db *gorm.DB, jobID string) ([]domain.JobFailure, error) {
	var out []domain.JobFailure
	err := db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC").Find(&out).Error
	return out, err
}

// CountJobs counts jobs in queue with the given status.
func CountJobs(ctx context.Context, db *gorm.DB, queue string, status domain.JobStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("queue = ? AND status = ?", queue, status).
		Count(&n).Error
	return n, err
}

// PruneJobs deletes finished jobs of queue in status. Jobs finished before
// olderThan are always removed; when keep > 0 only the newest keep jobs
// survive regardless of age. A zero olderThan disables the age rule.
func PruneJobs(ctx context.Context, db *gorm.DB, queue string, status domain.JobStatus, olderThan time.Time, keep int) (int64, error) {
	var removed int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !olderThan.IsZero() {
			res := tx.Where("queue = ? AND status = ? AND finished_at < ?", queue, status, olderThan.UTC()).
				Delete(&domain.Job{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		if keep <= 0 {
			return nil
		}
		var ids []string
		if err := tx.Model(&domain.Job{}).
			Where("queue = ? AND status = ?", queue, status).
			Order("finished_at DESC, id DESC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) <= keep {
			return nil
		}
		res := tx.Where("id IN ?", ids[keep:]).Delete(&domain.Job{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	return removed, err
}

// HasRunnableJob reports whether queue has a waiting job due at now.
func HasRunnableJob(ctx context.Context, db *gorm.DB, queue string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("queue = ? AND status = ? AND run_at <= ?", queue, domain.JobWaiting, now.UTC()).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// ListExhaustedStalledJobs returns active jobs of queue untouched since
// before that have no attempts left. A worker that died mid-job leaves its
// row active and the attempt it consumed still counts, so these jobs are
// failed by the queue rather than requeued.
func ListExhaustedStalledJobs(ctx context.Context, db *gorm.DB, queue string, before time.Time) ([]domain.Job, error) {
	var out []domain.Job
	err := db.WithContext(ctx).
		Where("queue = ? AND status = ? AND updated_at < ?", queue, domain.JobActive, before.UTC()).
		Where("attempts_made >= max_attempts").
		Order("updated_at ASC").
		Find(&out).Error
	return out, err
}

// RequeueStalledJobs returns active jobs of queue untouched since before to
// waiting, provided they still have attempts left. It returns how many jobs
// were requeued.
func RequeueStalledJobs(ctx context.Context, db *gorm.DB, queue string, before, now time.Time) (int64, error) {
	at := now.UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("queue = ? AND status = ? AND updated_at < ?", queue, domain.JobActive, before.UTC()).
		Where("attempts_made < max_attempts").
		UpdateColumns(map[string]any{
			"status":     domain.JobWaiting,
			"last_error": "stalled",
			"run_at":     at,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}
