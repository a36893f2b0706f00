package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/config"
	"github.com/tbourn/assessment-chat/internal/events"
	"github.com/tbourn/assessment-chat/internal/generation"
	"github.com/tbourn/assessment-chat/internal/llm"
	"github.com/tbourn/assessment-chat/internal/observability"
	"github.com/tbourn/assessment-chat/internal/queue"
	"github.com/tbourn/assessment-chat/internal/ratelimit"
	"github.com/tbourn/assessment-chat/internal/repo"
	"github.com/tbourn/assessment-chat/internal/services"
	"github.com/tbourn/assessment-chat/internal/threading"
	"github.com/tbourn/assessment-chat/internal/workers"
)

const quotaKeyPrefix = "chat:quota"

// app is the fully wired process. Both serve and worker build one so that
// the HTTP path and the queues share the quota, the locks and the database.
type app struct {
	cfg config.Config
	log zerolog.Logger

	db            *gorm.DB
	quota         *ratelimit.DailyQuota
	conversations *services.ConversationService
	jobs          *services.JobService
	aiQueue       *queue.Queue
	webhookQueue  *queue.Queue

	shutdown observability.Shutdown
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, log: log.Logger}
	var closers []observability.Shutdown
	fail := func(err error, msg string) (*app, error) {
		_ = observability.JoinShutdown(closers...)(context.Background())
		return nil, errors.WithMessage(err, msg)
	}

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fail(err, "couldn't set up tracing")
	}
	closers = append(closers, otelShutdown)

	db, err := repo.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return fail(err, "couldn't open database")
	}
	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, func(context.Context) error { return sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fail(err, "couldn't migrate database")
	}
	a.db = db

	store, closeStore, err := newQuotaStore(ctx, cfg.Quota)
	if err != nil {
		return fail(err, "couldn't create quota store")
	}
	closers = append(closers, closeStore)
	a.quota = ratelimit.New(cfg.Quota.DailyLimit,
		ratelimit.WithStore(store),
		ratelimit.WithLocation(cfg.Quota.Location),
		ratelimit.WithLogger(a.log),
	)

	endpoint, err := newEndpoint(cfg.Generation)
	if err != nil {
		return fail(err, "couldn't create generation client")
	}
	gen := generation.NewClient(endpoint, a.quota, cfg.Generation.Timeout)

	publisher, closePublisher := newPublisher(ctx, cfg.NATSURL, a.log)
	closers = append(closers, closePublisher)

	locks := threading.NewLocker()
	a.conversations = services.NewConversationService(db, locks, gen, a.quota, services.NewStaticAssessments())
	a.conversations.MaxHistory = cfg.Generation.MaxHistory

	a.webhookQueue, err = queue.New(db,
		queueConfig(queue.WebhookDeliveryDefaults(), cfg.WebhookQueue),
		workers.NewWebhookDelivery(cfg.WebhookTimeout),
		queue.WithLogger(a.log),
		queue.WithPublisher(publisher),
	)
	if err != nil {
		return fail(err, "couldn't create webhook queue")
	}

	ai := workers.NewAIGeneration(db, a.conversations, gen, a.quota, a.webhookQueue)
	ai.MaxHistory = cfg.Generation.MaxHistory
	a.aiQueue, err = queue.New(db,
		queueConfig(queue.AIGenerationDefaults(), cfg.AIQueue),
		ai,
		queue.WithLogger(a.log),
		queue.WithPublisher(publisher),
		queue.OnTerminalFailure(workers.FailureWebhook(a.webhookQueue, a.log)),
	)
	if err != nil {
		return fail(err, "couldn't create ai queue")
	}

	a.jobs = services.NewJobService(db, a.conversations, a.aiQueue)
	a.jobs.MaxHistory = cfg.Generation.MaxHistory

	a.shutdown = observability.JoinShutdown(closers...)
	return a, nil
}

// Close releases every resource opened by newApp.
func (a *app) Close(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(ctx)
}

// queueConfig overlays the environment tunables onto a queue's defaults.
func queueConfig(def queue.Config, qc config.QueueConfig) queue.Config {
	def.Attempts = qc.Attempts
	def.Backoff.Delay = qc.BackoffDelay
	def.Concurrency = qc.Concurrency
	def.Limiter = queue.Limiter{Max: qc.LimiterMax, Duration: qc.LimiterDuration}
	def.RemoveOnComplete = queue.Retention{Age: qc.RemoveOnCompleteAge, Count: qc.RemoveOnCompleteCount}
	def.RemoveOnFail = queue.Retention{Age: qc.RemoveOnFailAge, Count: qc.RemoveOnFailCount}
	return def
}

func newQuotaStore(ctx context.Context, qc config.QuotaConfig) (ratelimit.Store, observability.Shutdown, error) {
	if qc.Store != "redis" {
		return ratelimit.NewMemoryStore(), nil, nil
	}
	rdb, err := ratelimit.DialRedis(ctx, qc.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return ratelimit.NewRedisStore(rdb, quotaKeyPrefix), func(context.Context) error { return rdb.Close() }, nil
}

// newEndpoint returns the OpenAI client, or an endpoint that always fails
// when no key is configured so every reply comes from the fallback.
func newEndpoint(gc config.GenerationConfig) (llm.Client, error) {
	if gc.APIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set; replies will use the fallback")
		return llm.Unconfigured{}, nil
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:      gc.APIKey,
		BaseURL:     gc.BaseURL,
		Model:       gc.Model,
		MaxTokens:   gc.MaxTokens,
		Temperature: gc.Temperature,
	})
}

// newPublisher connects to NATS when configured. A connection failure only
// disables job events.
func newPublisher(ctx context.Context, url string, l zerolog.Logger) (events.Publisher, observability.Shutdown) {
	if url == "" {
		return events.Nop{}, nil
	}
	p, err := events.Connect(ctx, url, l)
	if err != nil {
		l.Warn().Err(err).Msg("job events disabled")
		return events.Nop{}, nil
	}
	return p, func(context.Context) error { p.Close(); return nil }
}

// pruneIdempotency removes expired idempotency records every interval until
// ctx is done.
func (a *app) pruneIdempotency(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PruneIdempotency(ctx, a.db, now)
			if err != nil && ctx.Err() == nil {
				a.log.Warn().Err(err).Msg("idempotency prune failed")
				continue
			}
			if n > 0 {
				a.log.Debug().Int64("removed", n).Msg("idempotency records pruned")
			}
		}
	}
}
