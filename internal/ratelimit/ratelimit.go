// Package ratelimit enforces the per-IP admission ceiling over fixed
// calendar-hour windows, backed by the shared ephemeral store so the decision
// stays correct across multiple gateway instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "ratelimit"
	// windowTTL outlives the hour bucket so a counter created at minute 59
	// still covers its whole window before eviction.
	windowTTL = 2 * time.Hour
)

// Limiter counts requests per (source IP, hour bucket) with an atomic
// increment. The window is a fixed calendar hour: counters reset at hour
// boundaries, so a burst straddling a boundary can see up to twice the
// ceiling. That approximation is accepted; see Allow.
type Limiter struct {
	rdb   *redis.Client
	limit int
}

// NewLimiter creates a limiter admitting at most limit requests per source IP
// per calendar hour.
func NewLimiter(rdb *redis.Client, limit int) *Limiter {
	return &Limiter{rdb: rdb, limit: limit}
}

// bucketKey builds the counter key for an IP at a moment, e.g.
// "ratelimit:203.0.113.9:2026010114". Buckets are UTC hours.
func bucketKey(ip string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, ip, now.UTC().Format("2006010215"))
}

// Allow reports whether a request from ip may proceed. Each call increments
// the window counter and admits while the count stays at or under the
// ceiling, so the decision and the count advance in one round trip.
//
// On store errors Allow fails open and returns the error alongside true:
// losing rate limiting briefly is preferable to refusing all traffic, and the
// caller is expected to log the error.
func (l *Limiter) Allow(ctx context.Context, ip string, now time.Time) (bool, error) {
	key := bucketKey(ip, now)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, windowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit check failed: %w", err)
	}

	return incr.Val() <= int64(l.limit), nil
}

// count returns the number of requests observed for ip in the current hour
// bucket. Missing counters read as zero.
func (l *Limiter) count(ctx context.Context, ip string, now time.Time) (int64, error) {
	n, err := l.rdb.Get(ctx, bucketKey(ip, now)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit count failed: %w", err)
	}
	return n, nil
}
