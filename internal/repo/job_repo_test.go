package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/assessment-chat/internal/domain"
)

func TestCreateJob_Defaults(t *testing.T) {
	db := newTestDB(t, &domain.Job{})
	ctx := context.Background()

	j := &domain.Job{Queue: domain.QueueAIGeneration, UserID: "u1", Prompt: "hi", MaxAttempts: 3}
	if err := CreateJob(ctx, db, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.ID == "" || j.Status != domain.JobWaiting || j.RunAt.IsZero() {
		t.Fatalf("defaults not applied: %+v", j)
	}
	got, err := GetJob(ctx, db, j.ID)
	if err != nil || got.Prompt != "hi" || got.MaxAttempts != 3 {
		t.Fatalf("GetJob = (%+v, %v)", got, err)
	}
	if _, err := GetJob(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNextJob_OrderAndRunAt(t *testing.T) {
	db := newTestDB(t, &domain.Job{})
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	future := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now.Add(time.Minute), MaxAttempts: 3}
	older := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now.Add(-2 * time.Second), MaxAttempts: 3}
	newer := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now.Add(-time.Second), MaxAttempts: 3}
	other := &domain.Job{Queue: domain.QueueWebhookDelivery, RunAt: now.Add(-time.Hour), MaxAttempts: 5}
	for _, j := range []*domain.Job{future, older, newer, other} {
		if err := CreateJob(ctx, db, j); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := ClaimNextJob(ctx, db, domain.QueueAIGeneration, now)
	if err != nil || got == nil || got.ID != older.ID {
		t.Fatalf("first claim = (%v, %v); want %s", got, err, older.ID)
	}
	if got.Status != domain.JobActive || got.AttemptsMade != 1 {
		t.Fatalf("claim did not activate: %+v", got)
	}

	got, _ = ClaimNextJob(ctx, db, domain.QueueAIGeneration, now)
	if got == nil || got.ID != newer.ID {
		t.Fatalf("second claim should be %s", newer.ID)
	}

	got, err = ClaimNextJob(ctx, db, domain.QueueAIGeneration, now)
	if err != nil || got != nil {
		t.Fatalf("nothing should be due, got (%v, %v)", got, err)
	}

	stored, _ := GetJob(ctx, db, older.ID)
	if stored.Status != domain.JobActive || stored.AttemptsMade != 1 {
		t.Fatalf("claim not persisted: %+v", stored)
	}
}

func TestJobTransitions(t *testing.T) {
	db := newTestDB(t, &domain.Job{}, &domain.JobFailure{})
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	j := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now, MaxAttempts: 3}
	_ = CreateJob(ctx, db, j)
	claimed, _ := ClaimNextJob(ctx, db, domain.QueueAIGeneration, now)
	if claimed == nil {
		t.Fatalf("expected claim")
	}

	retryAt := now.Add(2 * time.Second)
	if err := RetryJob(ctx, db, j.ID, "boom", retryAt, now); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	got, _ := GetJob(ctx, db, j.ID)
	if got.Status != domain.JobWaiting || got.LastError != "boom" || !got.RunAt.Equal(retryAt) || got.AttemptsMade != 1 {
		t.Fatalf("retry state wrong: %+v", got)
	}

	// Not due yet.
	if c, _ := ClaimNextJob(ctx, db, domain.QueueAIGeneration, now); c != nil {
		t.Fatalf("job claimed before its run_at")
	}
	c, _ := ClaimNextJob(ctx, db, domain.QueueAIGeneration, retryAt)
	if c == nil || c.AttemptsMade != 2 {
		t.Fatalf("expected second attempt, got %+v", c)
	}

	// Deferral refunds the attempt.
	if err := DeferJob(ctx, db, j.ID, "quota", retryAt.Add(time.Hour), retryAt); err != nil {
		t.Fatalf("DeferJob: %v", err)
	}
	got, _ = GetJob(ctx, db, j.ID)
	if got.AttemptsMade != 1 || got.Status != domain.JobWaiting {
		t.Fatalf("defer state wrong: %+v", got)
	}

	if err := CompleteJob(ctx, db, j.ID, datatypes.JSON(`{"ok":true}`), now); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, _ = GetJob(ctx, db, j.ID)
	if got.Status != domain.JobCompleted || got.FinishedAt == nil || string(got.Result) != `{"ok":true}` {
		t.Fatalf("complete state wrong: %+v", got)
	}

	if err := FailJob(ctx, db, "missing", "x", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := CreateJobFailure(ctx, db, &domain.JobFailure{JobID: j.ID, Queue: j.Queue, Attempts: 3, Error: "boom"}); err != nil {
		t.Fatalf("CreateJobFailure: %v", err)
	}
	fails, err := ListJobFailures(ctx, db, j.ID)
	if err != nil || len(fails) != 1 || fails[0].Error != "boom" {
		t.Fatalf("ListJobFailures = (%v, %v)", fails, err)
	}
}

func TestPruneJobs_AgeAndCount(t *testing.T) {
	db := newTestDB(t, &domain.Job{})
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		j := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now, MaxAttempts: 1}
		_ = CreateJob(ctx, db, j)
		_ = CompleteJob(ctx, db, j.ID, nil, now.Add(-time.Duration(i)*time.Hour))
	}
	// A failed job is never touched by a completed-status prune.
	f := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now, MaxAttempts: 1}
	_ = CreateJob(ctx, db, f)
	_ = FailJob(ctx, db, f.ID, "x", now.Add(-48*time.Hour))

	// Age: finished more than 2.5h ago -> the jobs at -3h and -4h.
	n, err := PruneJobs(ctx, db, domain.QueueAIGeneration, domain.JobCompleted, now.Add(-150*time.Minute), 0)
	if err != nil || n != 2 {
		t.Fatalf("age prune = (%d, %v); want 2", n, err)
	}
	// Count: keep the newest 1 of the remaining 3.
	n, err = PruneJobs(ctx, db, domain.QueueAIGeneration, domain.JobCompleted, time.Time{}, 1)
	if err != nil || n != 2 {
		t.Fatalf("count prune = (%d, %v); want 2", n, err)
	}
	if c, _ := CountJobs(ctx, db, domain.QueueAIGeneration, domain.JobCompleted); c != 1 {
		t.Fatalf("expected 1 completed job left, got %d", c)
	}
	if c, _ := CountJobs(ctx, db, domain.QueueAIGeneration, domain.JobFailed); c != 1 {
		t.Fatalf("failed job must survive, got %d", c)
	}
}

func TestHasRunnableJob_AndRequeueStalled(t *testing.T) {
	db := newTestDB(t, &domain.Job{})
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if ok, err := HasRunnableJob(ctx, db, domain.QueueAIGeneration, now); err != nil || ok {
		t.Fatalf("empty queue: (%v, %v)", ok, err)
	}

	j := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now.Add(time.Minute), MaxAttempts: 3}
	_ = CreateJob(ctx, db, j)
	if ok, _ := HasRunnableJob(ctx, db, domain.QueueAIGeneration, now); ok {
		t.Fatalf("future job must not be runnable")
	}
	later := now.Add(2 * time.Minute)
	if ok, _ := HasRunnableJob(ctx, db, domain.QueueAIGeneration, later); !ok {
		t.Fatalf("due job must be runnable")
	}

	claimed, _ := ClaimNextJob(ctx, db, domain.QueueAIGeneration, later)
	if claimed == nil {
		t.Fatalf("claim failed")
	}

	n, err := RequeueStalledJobs(ctx, db, domain.QueueAIGeneration, later, later)
	if err != nil || n != 0 {
		t.Fatalf("fresh active job must stay, got (%d, %v)", n, err)
	}
	n, err = RequeueStalledJobs(ctx, db, domain.QueueAIGeneration, later.Add(10*time.Minute), later.Add(10*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("stalled job should be requeued, got (%d, %v)", n, err)
	}
	got, _ := GetJob(ctx, db, j.ID)
	if got.Status != domain.JobWaiting || got.AttemptsMade != 1 || got.LastError != "stalled" {
		t.Fatalf("unexpected requeued job: %+v", got)
	}
}

func TestRequeueStalled_SkipsExhaustedJobs(t *testing.T) {
	db := newTestDB(t, &domain.Job{})
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	j := &domain.Job{Queue: domain.QueueAIGeneration, RunAt: now, MaxAttempts: 1}
	_ = CreateJob(ctx, db, j)
	if c, _ := ClaimNextJob(ctx, db, domain.QueueAIGeneration, now); c == nil {
		t.Fatalf("claim failed")
	}

	later := now.Add(time.Hour)
	if list, err := ListExhaustedStalledJobs(ctx, db, domain.QueueAIGeneration, now); err != nil || len(list) != 0 {
		t.Fatalf("job touched at the cutoff is not stalled, got (%d, %v)", len(list), err)
	}
	list, err := ListExhaustedStalledJobs(ctx, db, domain.QueueAIGeneration, later)
	if err != nil || len(list) != 1 || list[0].ID != j.ID {
		t.Fatalf("ListExhaustedStalledJobs = (%+v, %v)", list, err)
	}

	n, err := RequeueStalledJobs(ctx, db, domain.QueueAIGeneration, later, later)
	if err != nil || n != 0 {
		t.Fatalf("exhausted job must not be requeued, got (%d, %v)", n, err)
	}
	got, _ := GetJob(ctx, db, j.ID)
	if got.Status != domain.JobActive {
		t.Fatalf("exhausted stalled job is left for the queue to fail: %+v", got)
	}
}
