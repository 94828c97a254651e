// Package guard implements the per-user request guards in front of the
// message and stream endpoints: rate limits and idempotency key replay
// detection. Guards fail open on backend errors so a degraded Redis never
// blocks legitimate traffic.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Scope names a rate-limited operation class.
type Scope string

const (
	ScopeMessage    Scope = "message"
	ScopeSSEConnect Scope = "sse_connect"
)

// RateLimiter answers whether a user may perform one more operation in the
// given scope right now.
type RateLimiter interface {
	Allow(ctx context.Context, userID string, scope Scope) bool
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalRateLimiter keeps per-user token buckets in memory. The registry is
// bounded: when it exceeds maxUsers the stalest entries are dropped, which
// at worst refills a returning user's bucket.
type LocalRateLimiter struct {
	mu       sync.Mutex
	users    map[string]*userLimiter
	limits   map[Scope]rate.Limit
	burst    map[Scope]int
	maxUsers int
	now      func() time.Time
}

// NewLocalRateLimiter builds the in-process limiter from per-minute rates.
func NewLocalRateLimiter(messagePerMinute, sseConnectPerMinute, maxUsers int) *LocalRateLimiter {
	return &LocalRateLimiter{
		users: make(map[string]*userLimiter),
		limits: map[Scope]rate.Limit{
			ScopeMessage:    rate.Limit(float64(messagePerMinute) / 60.0),
			ScopeSSEConnect: rate.Limit(float64(sseConnectPerMinute) / 60.0),
		},
		burst: map[Scope]int{
			ScopeMessage:    messagePerMinute,
			ScopeSSEConnect: sseConnectPerMinute,
		},
		maxUsers: maxUsers,
		now:      time.Now,
	}
}

// Allow consumes one token from the user's bucket for the scope.
func (l *LocalRateLimiter) Allow(_ context.Context, userID string, scope Scope) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + ":" + string(scope)
	ul, ok := l.users[key]
	if !ok {
		if len(l.users) >= l.maxUsers {
			l.evictStalest()
		}
		ul = &userLimiter{limiter: rate.NewLimiter(l.limits[scope], l.burst[scope])}
		l.users[key] = ul
	}
	ul.lastSeen = l.now()
	return ul.limiter.AllowN(ul.lastSeen, 1)
}

// evictStalest drops the least recently seen quarter of the registry. Caller
// holds the lock.
func (l *LocalRateLimiter) evictStalest() {
	target := l.maxUsers / 4
	if target < 1 {
		target = 1
	}
	type aged struct {
		key  string
		seen time.Time
	}
	oldest := make([]aged, 0, len(l.users))
	for k, ul := range l.users {
		oldest = append(oldest, aged{k, ul.lastSeen})
	}
	// Partial selection is enough at this size; a full sort keeps it simple.
	for i := 0; i < target && i < len(oldest); i++ {
		min := i
		for j := i + 1; j < len(oldest); j++ {
			if oldest[j].seen.Before(oldest[min].seen) {
				min = j
			}
		}
		oldest[i], oldest[min] = oldest[min], oldest[i]
		delete(l.users, oldest[i].key)
	}
	slog.Debug("Rate limiter registry trimmed", "evicted", target, "remaining", len(l.users))
}

// TrackedUsers returns the registry size.
func (l *LocalRateLimiter) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// RedisRateLimiter implements a fixed-window counter per user and scope,
// shared across replicas. Enabled by the redis rate-limit feature gate.
type RedisRateLimiter struct {
	client *redis.Client
	limits map[Scope]int
	window time.Duration
}

// NewRedisRateLimiter builds the shared limiter from per-minute rates.
func NewRedisRateLimiter(client *redis.Client, messagePerMinute, sseConnectPerMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limits: map[Scope]int{
			ScopeMessage:    messagePerMinute,
			ScopeSSEConnect: sseConnectPerMinute,
		},
		window: time.Minute,
	}
}

// Allow increments the user's window counter and compares it to the scope
// limit. Redis errors fail open with a warning.
func (r *RedisRateLimiter) Allow(ctx context.Context, userID string, scope Scope) bool {
	window := time.Now().Unix() / int64(r.window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, userID, window)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Redis rate limit check failed, allowing request",
			"user_id", userID, "scope", scope, "error", err)
		return true
	}
	return incr.Val() <= int64(r.limits[scope])
}
