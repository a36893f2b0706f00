package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// keyTTL keeps yesterday's counter around long enough for any time zone
// offset, then lets Redis drop it.
const keyTTL = 48 * time.Hour

// RedisStore is a Store shared by every instance pointing at the same Redis.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are "<prefix>:<day>".
func NewRedisStore(rdb goredis.UniversalClient, prefix string) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = "quota:generation"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) key(day string) string { return s.prefix + ":" + day }

// Count implements Store. A missing key counts as zero.
func (s *RedisStore) Count(ctx context.Context, day string) (int, error) {
	n, err := s.rdb.Get(ctx, s.key(day)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota count: %w", err)
	}
	return n, nil
}

// Incr implements Store with INCR and a sliding expiry in one round trip.
func (s *RedisStore) Incr(ctx context.Context, day string) (int, error) {
	var incr *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, s.key(day))
		p.Expire(ctx, s.key(day), keyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("quota incr: %w", err)
	}
	return int(incr.Val()), nil
}
