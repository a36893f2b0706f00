// Package ratelimit implements the daily quota that guards every call to the
// external generation endpoint.
//
// A DailyQuota is an explicit handle created once per process with New and
// injected into the generation client and every worker. Its counter lives in
// a Store keyed by calendar day, so the reset happens implicitly the first
// time a call observes a new date:
//
//   - MemoryStore keeps the counter in process memory (default).
//   - RedisStore keeps a date-keyed counter in Redis so several instances
//     share one budget and a restart does not grant a fresh quota.
//
// Callers must check-then-increment: CanMakeCall is a pure read and
// IncrementCallCount is only invoked after a confirmed successful call.
//
// The check and the increment are not one atomic step. N callers that pass
// CanMakeCall together while one slot is left all go on to spend, so the day
// can end up to N-1 calls over the limit, where N is the number of
// generation calls in flight. Usage stats report the real count and clamp
// Remaining at zero.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrRateLimitExceeded is returned when the daily budget is exhausted before
// a call is attempted.
var ErrRateLimitExceeded = errors.New("daily generation quota exceeded")

// dayLayout is the calendar-day key format (YYYY-MM-DD).
const dayLayout = "2006-01-02"

// warnPercent is the usage level at which a single warning is logged per day.
const warnPercent = 80.0

// Store persists the per-day call counter. Implementations must make Incr
// atomic with respect to concurrent callers.
type Store interface {
	// Count returns the number of calls recorded for day.
	Count(ctx context.Context, day string) (int, error)
	// Incr records one call for day and returns the new count.
	Incr(ctx context.Context, day string) (int, error)
}

// UsageStats is a snapshot of today's quota consumption.
type UsageStats struct {
	CallsToday  int     `json:"calls_today"`
	DailyLimit  int     `json:"daily_limit"`
	Remaining   int     `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
	ResetDate   string  `json:"reset_date"`
}

// DailyQuota tracks a daily call budget. It is safe for concurrent use.
type DailyQuota struct {
	limit int
	store Store
	now   func() time.Time
	loc   *time.Location
	log   zerolog.Logger

	mu        sync.Mutex
	warnedDay string
}

// Option customizes a DailyQuota.
type Option func(*DailyQuota)

// WithClock overrides the wall clock (tests use it to advance the date).
func WithClock(now func() time.Time) Option {
	return func(q *DailyQuota) {
		if now != nil {
			q.now = now
		}
	}
}

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option {
	return func(q *DailyQuota) {
		if s != nil {
			q.store = s
		}
	}
}

// WithLocation sets the time zone that defines a calendar day. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(q *DailyQuota) {
		if loc != nil {
			q.loc = loc
		}
	}
}

// WithLogger sets the logger used for the usage warning.
func WithLogger(l zerolog.Logger) Option {
	return func(q *DailyQuota) { q.log = l }
}

// New returns a quota allowing dailyLimit calls per calendar day. Negative
// limits are treated as zero, which disallows every call.
func New(dailyLimit int, opts ...Option) *DailyQuota {
	if dailyLimit < 0 {
		dailyLimit = 0
	}
	q := &DailyQuota{
		limit: dailyLimit,
		store: NewMemoryStore(),
		now:   time.Now,
		loc:   time.UTC,
		log:   log.Logger,
	}
	for _, o := range opts {
		o(q)
	}
	quotaLimit.Set(float64(q.limit))
	return q
}

// Limit returns the configured daily limit.
func (q *DailyQuota) Limit() int { return q.limit }

// today returns the current calendar-day key.
func (q *DailyQuota) today() string {
	return q.now().In(q.loc).Format(dayLayout)
}

// CanMakeCall reports whether another call fits in today's budget. It does
// not consume quota.
func (q *DailyQuota) CanMakeCall(ctx context.Context) (bool, error) {
	n, err := q.store.Count(ctx, q.today())
	if err != nil {
		return false, err
	}
	quotaCalls.Set(float64(n))
	return n < q.limit, nil
}

// IncrementCallCount records one successful call against today's budget.
func (q *DailyQuota) IncrementCallCount(ctx context.Context) error {
	day := q.today()
	n, err := q.store.Incr(ctx, day)
	if err != nil {
		return err
	}
	quotaCalls.Set(float64(n))
	q.maybeWarn(day, n)
	return nil
}

// GetUsageStats returns today's usage. Two calls without an intervening
// increment return identical results.
func (q *DailyQuota) GetUsageStats(ctx context.Context) (UsageStats, error) {
	day := q.today()
	n, err := q.store.Count(ctx, day)
	if err != nil {
		return UsageStats{}, err
	}
	remaining := q.limit - n
	if remaining < 0 {
		remaining = 0
	}
	return UsageStats{
		CallsToday:  n,
		DailyLimit:  q.limit,
		Remaining:   remaining,
		PercentUsed: percent(n, q.limit),
		ResetDate:   day,
	}, nil
}

// NextReset returns the instant the next calendar day starts.
func (q *DailyQuota) NextReset() time.Time {
	now := q.now().In(q.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, q.loc)
}

func (q *DailyQuota) maybeWarn(day string, n int) {
	if q.limit == 0 || percent(n, q.limit) < warnPercent {
		return
	}
	q.mu.Lock()
	if q.warnedDay == day {
		q.mu.Unlock()
		return
	}
	q.warnedDay = day
	q.mu.Unlock()

	q.log.Warn().
		Int("calls_today", n).
		Int("daily_limit", q.limit).
		Str("day", day).
		Msg("generation quota above 80%")
}

// percent returns n/limit as a percentage rounded to two decimals.
func percent(n, limit int) float64 {
	if limit <= 0 {
		return 100
	}
	return math.Round(float64(n)/float64(limit)*10000) / 100
}

// MemoryStore is a process-local Store. The counter is dropped whenever a
// different day is observed.
type MemoryStore struct {
	mu    sync.Mutex
	day   string
	count int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll(day)
	return s.count, nil
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll(day)
	s.count++
	return s.count, nil
}

// roll resets the counter when day differs from the stored reset date.
func (s *MemoryStore) roll(day string) {
	if s.day != day {
		s.day = day
		s.count = 0
	}
}
