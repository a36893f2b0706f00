// Package queue is a durable job queue on top of the relational store. Each
// named queue has its own retry budget, backoff, concurrency, start-rate
// limiter and retention. Jobs survive restarts because the jobs table is the
// source of truth; workers only hold a claimed row while running it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/events"
	"github.com/tbourn/assessment-chat/internal/repo"
)

// ErrNoHandler is returned when a producer-only queue is asked to run jobs.
var ErrNoHandler = errors.New("queue: no handler registered")

// Handler runs one job attempt. The returned result is stored as JSON on
// success. Returning Defer or Permanent errors changes how a failure is
// scheduled.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (any, error) { return f(ctx, job) }

// TerminalHook runs after a job has exhausted its attempts.
type TerminalHook func(ctx context.Context, job *domain.Job, err error)

// Queue is one named queue. It is safe for concurrent use.
type Queue struct {
	cfg        Config
	db         *gorm.DB
	handler    Handler
	limiter    *rate.Limiter
	now        func() time.Time
	log        zerolog.Logger
	events     events.Publisher
	onTerminal TerminalHook
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLogger sets the queue's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(q *Queue) {
		if p != nil {
			q.events = p
		}
	}
}

// OnTerminalFailure registers h to run when a job fails for good.
func OnTerminalFailure(h TerminalHook) Option {
	return func(q *Queue) { q.onTerminal = h }
}

// New validates cfg and builds a queue. A nil handler yields a producer-only
// queue: Enqueue works, ProcessNext and Run return ErrNoHandler.
func New(db *gorm.DB, cfg Config, h Handler, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := &Queue{
		cfg:     cfg,
		db:      db,
		handler: h,
		limiter: newLimiter(cfg.Limiter),
		now:     time.Now,
		log:     log.Logger,
		events:  events.Nop{},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With().Str("queue", cfg.Name).Logger()
	return q, nil
}

// newLimiter refills Max tokens per Duration with a burst of Max. Max == 0
// means unlimited.
func newLimiter(l Limiter) *rate.Limiter {
	if l.Max <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(l.Duration/time.Duration(l.Max)), l.Max)
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.cfg.Name }

// Config returns the queue's configuration.
func (q *Queue) Config() Config { return q.cfg }

// Enqueue stores j as waiting in this queue with the configured attempt
// budget and returns its id.
func (q *Queue) Enqueue(ctx context.Context, j *domain.Job) (string, error) {
	j.Queue = q.cfg.Name
	j.Status = domain.JobWaiting
	j.AttemptsMade = 0
	j.MaxAttempts = q.cfg.Attempts
	if j.RunAt.IsZero() {
		j.RunAt = q.now().UTC()
	}
	if err := repo.CreateJob(ctx, q.db, j); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", q.cfg.Name, err)
	}
	q.log.Debug().Str("job_id", j.ID).Msg("job enqueued")
	return j.ID, nil
}

// ProcessNext claims one due job and runs it. It reports whether a job was
// claimed. Handler failures are recorded on the job, not returned; the error
// is only for store failures.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	if q.handler == nil {
		return false, ErrNoHandler
	}
	job, err := repo.ClaimNextJob(ctx, q.db, q.cfg.Name, q.now())
	if err != nil || job == nil {
		return false, err
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.Attempts
	}

	tr := otel.Tracer("queue/Queue")
	ctx, span := tr.Start(ctx, "ProcessJob",
		trace.WithAttributes(
			attribute.String("queue.name", q.cfg.Name),
			attribute.String("job.id", job.ID),
			attribute.Int("job.attempt", job.AttemptsMade),
		),
	)
	defer span.End()

	lg := q.log.With().
		Str("job_id", job.ID).
		Int("attempt", job.AttemptsMade).
		Int("max_attempts", job.MaxAttempts).
		Logger()

	start := time.Now()
	result, herr := q.invoke(ctx, job)
	jobDuration.WithLabelValues(q.cfg.Name).Observe(time.Since(start).Seconds())

	// Bookkeeping must land even when shutdown cancelled the handler.
	bctx := context.WithoutCancel(ctx)
	now := q.now()

	if herr == nil {
		return true, q.complete(bctx, lg, job, result, now)
	}
	span.RecordError(herr)

	var d *DeferError
	if errors.As(herr, &d) {
		if err := repo.DeferJob(bctx, q.db, job.ID, herr.Error(), d.Until, now); err != nil {
			return true, err
		}
		jobsTotal.WithLabelValues(q.cfg.Name, outcomeDeferred).Inc()
		lg.Info().Err(d.Reason).Time("until", d.Until).Msg("job deferred")
		return true, nil
	}

	lg.Warn().Err(herr).Msg("job attempt failed")
	if job.AttemptsMade < job.MaxAttempts && !IsPermanent(herr) {
		delay := q.cfg.BackoffDelay(job.AttemptsMade)
		if err := repo.RetryJob(bctx, q.db, job.ID, herr.Error(), now.Add(delay), now); err != nil {
			return true, err
		}
		jobsTotal.WithLabelValues(q.cfg.Name, outcomeRetried).Inc()
		lg.Debug().Dur("delay", delay).Msg("job scheduled for retry")
		return true, nil
	}

	span.SetStatus(codes.Error, "job failed")
	return true, q.fail(bctx, lg, job, herr, now)
}

// invoke runs the handler, turning a panic into an error with a stack.
func (q *Queue) invoke(ctx context.Context, job *domain.Job) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("panic: %v", r)
		}
	}()
	return q.handler.Handle(ctx, job)
}

func (q *Queue) complete(ctx context.Context, lg zerolog.Logger, job *domain.Job, result any, now time.Time) error {
	var data datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return q.fail(ctx, lg, job, Permanent(fmt.Errorf("encode result: %w", err)), now)
		}
		data = b
	}
	if err := repo.CompleteJob(ctx, q.db, job.ID, data, now); err != nil {
		return err
	}
	job.Status = domain.JobCompleted
	job.Result = data
	jobsTotal.WithLabelValues(q.cfg.Name, outcomeCompleted).Inc()
	lg.Info().Str("conversation_id", job.ConversationID).Msg("job completed")
	q.publish(ctx, job, events.StatusCompleted, "")
	return nil
}

// fail marks job terminally failed, stores a failure record with the stack
// and runs the terminal hook.
func (q *Queue) fail(ctx context.Context, lg zerolog.Logger, job *domain.Job, cause error, now time.Time) error {
	msg := cause.Error()
	if err := repo.FailJob(ctx, q.db, job.ID, msg, now); err != nil {
		return err
	}
	job.Status = domain.JobFailed
	job.LastError = msg

	rec := &domain.JobFailure{
		JobID:          job.ID,
		Queue:          q.cfg.Name,
		ConversationID: job.ConversationID,
		Attempts:       job.AttemptsMade,
		Error:          msg,
		Stack:          fmt.Sprintf("%+v", pkgerrors.WithStack(cause)),
		CreatedAt:      now.UTC(),
	}
	if err := repo.CreateJobFailure(ctx, q.db, rec); err != nil {
		lg.Warn().Err(err).Msg("failure record not stored")
	}

	jobsTotal.WithLabelValues(q.cfg.Name, outcomeFailed).Inc()
	lg.Error().Err(cause).Str("conversation_id", job.ConversationID).Msg("job failed permanently")
	q.publish(ctx, job, events.StatusFailed, msg)
	if q.onTerminal != nil {
		q.onTerminal(ctx, job, cause)
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, job *domain.Job, status, errMsg string) {
	ev := events.JobEvent{
		JobID:          job.ID,
		Queue:          q.cfg.Name,
		Status:         status,
		ConversationID: job.ConversationID,
		UserID:         job.UserID,
		Attempts:       job.AttemptsMade,
		Error:          errMsg,
		At:             q.now().UTC(),
	}
	if err := q.events.Publish(ctx, ev); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.ID).Msg("job event not published")
	}
}

// Run starts Concurrency workers plus the janitor and blocks until ctx is
// done.
func (q *Queue) Run(ctx context.Context) error {
	if q.handler == nil {
		return ErrNoHandler
	}
	q.log.Info().
		Int("concurrency", q.cfg.Concurrency).
		Int("limiter_max", q.cfg.Limiter.Max).
		Dur("limiter_duration", q.cfg.Limiter.Duration).
		Msg("queue workers starting")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Concurrency; i++ {
		worker := i + 1
		g.Go(func() error {
			q.work(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		q.janitor(gctx)
		return nil
	})
	err := g.Wait()
	q.log.Info().Msg("queue workers stopped")
	return err
}

// work polls for due jobs. A limiter token is only taken once a job is known
// to be waiting, so idle polling does not drain the budget.
func (q *Queue) work(ctx context.Context, worker int) {
	lg := q.log.With().Int("worker", worker).Logger()
	for ctx.Err() == nil {
		ready, err := repo.HasRunnableJob(ctx, q.db, q.cfg.Name, q.now())
		if err != nil && ctx.Err() == nil {
			lg.Warn().Err(err).Msg("poll failed")
		}
		if err != nil || !ready {
			if !sleep(ctx, q.cfg.pollInterval()) {
				return
			}
			continue
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		processed, err := q.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			lg.Warn().Err(err).Msg("process failed")
		}
		if !processed && !sleep(ctx, q.cfg.pollInterval()) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
