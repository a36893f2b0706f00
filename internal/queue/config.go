package queue

import (
	"fmt"
	"time"

	"github.com/tbourn/assessment-chat/internal/domain"
)

// Backoff types.
const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// Backoff schedules retries. Exponential waits Delay·2^(attempt-1) after the
// attempt-th failure; fixed always waits Delay.
type Backoff struct {
	Type  string
	Delay time.Duration
}

// Retention bounds how many finished jobs are kept. Jobs older than Age are
// removed, and only the newest Count survive. Zero disables a rule.
type Retention struct {
	Age   time.Duration
	Count int
}

// Limiter caps how many jobs start per Duration across all workers of a queue.
type Limiter struct {
	Max      int
	Duration time.Duration
}

// Config describes one named queue. Values are used verbatim.
type Config struct {
	Name             string
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete Retention
	RemoveOnFail     Retention
	Concurrency      int
	Limiter          Limiter

	// PollInterval is how long an idle worker sleeps between checks.
	PollInterval time.Duration
	// StalledAfter requeues active jobs that have not been touched for this long.
	StalledAfter time.Duration
	// JanitorInterval is how often retention and stall checks run.
	JanitorInterval time.Duration
}

// AIGenerationDefaults is the ai-generation queue: few attempts and a strict
// limiter, since every attempt may spend quota.
func AIGenerationDefaults() Config {
	return Config{
		Name:             domain.QueueAIGeneration,
		Attempts:         3,
		Backoff:          Backoff{Type: BackoffExponential, Delay: 2 * time.Second},
		RemoveOnComplete: Retention{Age: 24 * time.Hour, Count: 1000},
		RemoveOnFail:     Retention{Age: 7 * 24 * time.Hour, Count: 5000},
		Concurrency:      2,
		Limiter:          Limiter{Max: 10, Duration: time.Minute},
		PollInterval:     time.Second,
		StalledAfter:     5 * time.Minute,
		JanitorInterval:  time.Minute,
	}
}

// WebhookDeliveryDefaults is the webhook-delivery queue.
func WebhookDeliveryDefaults() Config {
	return Config{
		Name:             domain.QueueWebhookDelivery,
		Attempts:         5,
		Backoff:          Backoff{Type: BackoffExponential, Delay: time.Second},
		RemoveOnComplete: Retention{Age: 24 * time.Hour, Count: 1000},
		RemoveOnFail:     Retention{Age: 7 * 24 * time.Hour, Count: 5000},
		Concurrency:      5,
		Limiter:          Limiter{Max: 100, Duration: time.Minute},
		PollInterval:     time.Second,
		StalledAfter:     5 * time.Minute,
		JanitorInterval:  time.Minute,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("queue: name is required")
	case c.Attempts < 1:
		return fmt.Errorf("queue %s: attempts must be >= 1", c.Name)
	case c.Backoff.Type != BackoffExponential && c.Backoff.Type != BackoffFixed:
		return fmt.Errorf("queue %s: unknown backoff type %q", c.Name, c.Backoff.Type)
	case c.Backoff.Delay < 0:
		return fmt.Errorf("queue %s: backoff delay must be >= 0", c.Name)
	case c.Concurrency < 1:
		return fmt.Errorf("queue %s: concurrency must be >= 1", c.Name)
	case c.Limiter.Max < 0 || (c.Limiter.Max > 0 && c.Limiter.Duration <= 0):
		return fmt.Errorf("queue %s: limiter needs max >= 0 and a positive duration", c.Name)
	case c.RemoveOnComplete.Count < 0 || c.RemoveOnFail.Count < 0:
		return fmt.Errorf("queue %s: retention count must be >= 0", c.Name)
	case c.RemoveOnComplete.Age < 0 || c.RemoveOnFail.Age < 0:
		return fmt.Errorf("queue %s: retention age must be >= 0", c.Name)
	}
	return nil
}

// BackoffDelay returns the wait after the attempt-th failure (1-based).
func (c Config) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if c.Backoff.Type == BackoffFixed {
		return c.Backoff.Delay
	}
	d := c.Backoff.Delay
	for i := 1; i < attempt; i++ {
		if d > time.Hour {
			return d
		}
		d *= 2
	}
	return d
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return time.Second
	}
	return c.PollInterval
}

func (c Config) janitorInterval() time.Duration {
	if c.JanitorInterval <= 0 {
		return time.Minute
	}
	return c.JanitorInterval
}
