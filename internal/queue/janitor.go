package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/repo"
)

// Prune applies RemoveOnComplete and RemoveOnFail and returns how many jobs
// were deleted.
func (q *Queue) Prune(ctx context.Context) (int64, error) {
	now := q.now()
	rules := []struct {
		status domain.JobStatus
		keep   Retention
	}{
		{domain.JobCompleted, q.cfg.RemoveOnComplete},
		{domain.JobFailed, q.cfg.RemoveOnFail},
	}

	var total int64
	for _, r := range rules {
		var olderThan time.Time
		if r.keep.Age > 0 {
			olderThan = now.Add(-r.keep.Age)
		}
		if olderThan.IsZero() && r.keep.Count == 0 {
			continue
		}
		n, err := repo.PruneJobs(ctx, q.db, q.cfg.Name, r.status, olderThan, r.keep.Count)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		jobsPruned.WithLabelValues(q.cfg.Name).Add(float64(total))
	}
	return total, nil
}

// errStalled is the failure cause for a job whose worker vanished on its
// last attempt.
var errStalled = errors.New("job stalled")

// RequeueStalled puts jobs whose worker vanished back to waiting and returns
// how many were requeued. Stalled jobs with no attempts left go through the
// normal terminal failure path instead.
func (q *Queue) RequeueStalled(ctx context.Context) (int64, error) {
	if q.cfg.StalledAfter <= 0 {
		return 0, nil
	}
	now := q.now()
	before := now.Add(-q.cfg.StalledAfter)

	exhausted, err := repo.ListExhaustedStalledJobs(ctx, q.db, q.cfg.Name, before)
	if err != nil {
		return 0, err
	}
	for i := range exhausted {
		job := &exhausted[i]
		lg := q.log.With().
			Str("job_id", job.ID).
			Int("attempt", job.AttemptsMade).
			Int("max_attempts", job.MaxAttempts).
			Logger()
		if err := q.fail(ctx, lg, job, errStalled, now); err != nil {
			return 0, err
		}
	}
	return repo.RequeueStalledJobs(ctx, q.db, q.cfg.Name, before, now)
}

func (q *Queue) janitor(ctx context.Context) {
	t := time.NewTicker(q.cfg.janitorInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := q.Prune(ctx); err != nil {
				q.log.Warn().Err(err).Msg("retention prune failed")
			} else if n > 0 {
				q.log.Debug().Int64("removed", n).Msg("finished jobs pruned")
			}
			if n, err := q.RequeueStalled(ctx); err != nil {
				q.log.Warn().Err(err).Msg("stall check failed")
			} else if n > 0 {
				q.log.Warn().Int64("requeued", n).Msg("stalled jobs requeued")
			}
		}
	}
}
