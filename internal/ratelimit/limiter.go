// Package ratelimit implements a sliding-window throttle on Redis sorted
// sets. Each key holds one timestamped entry per allowed event; entries
// older than the window are purged lazily on every check.
//
// The limiter fails open: when Redis is unreachable the request is allowed
// and a warning is logged. Message delivery must not halt because the
// counter store is briefly down.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/util"
)

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // only set when denied
}

type Limiter struct {
	rdb    *redis.Client
	log    *zap.Logger
	name   string
	max    int
	window time.Duration
}

// New builds a limiter. name namespaces the Redis keys (rl:{name}:{key}).
func New(rdb *redis.Client, log *zap.Logger, name string, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{rdb: rdb, log: log, name: name, max: max, window: window}
}

func (l *Limiter) key(key string) string {
	return "rl:" + l.name + ":" + key
}

// checkScript purges, counts, and conditionally admits in a single atomic
// step. Concurrent checks on the same key therefore can never overfill the
// window: the count an admitting caller sees already includes every entry
// admitted before it.
//
// KEYS[1] window key; ARGV: cutoff, max, now, member, window millis.
// Reply: {admitted 0/1, count after, oldest surviving score or ""}.
var checkScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[2]) then
	local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
	return {0, count, oldest[2]}
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {1, count + 1, ""}
`)

// Check purges expired entries, counts survivors, and records a new entry
// when under the limit. Redis failures fail open.
func (l *Limiter) Check(ctx context.Context, key string) Decision {
	now := time.Now()
	k := l.key(key)

	res, err := checkScript.Run(ctx, l.rdb, []string{k},
		fmtScore(now.Add(-l.window)),
		l.max,
		fmtScore(now),
		util.NewULID(),
		l.window.Milliseconds(),
	).Slice()
	if err != nil {
		return l.failOpen(key, err)
	}
	if len(res) != 3 {
		return l.failOpen(key, fmt.Errorf("unexpected limiter reply %v", res))
	}

	admitted, _ := res[0].(int64)
	count, _ := res[1].(int64)

	if admitted == 0 {
		retryAfter := l.window
		if s, ok := res[2].(string); ok && s != "" {
			if score, perr := strconv.ParseFloat(s, 64); perr == nil && score > 0 {
				if d := timeFromScore(score).Add(l.window).Sub(now); d > 0 {
					retryAfter = d
				} else {
					retryAfter = time.Millisecond
				}
			}
		}
		metrics.RateLimitDecisions.WithLabelValues(l.name, "denied").Inc()
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(retryAfter),
			RetryAfter: retryAfter,
		}
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	metrics.RateLimitDecisions.WithLabelValues(l.name, "allowed").Inc()
	return Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   now.Add(l.window),
	}
}

// Remaining reports current capacity without consuming any.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	now := time.Now()
	k := l.key(key)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmtScore(now.Add(-l.window)))
	card := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	rem := l.max - int(card.Val())
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}

// Reset clears the window for the key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.key(key)).Err()
}

func (l *Limiter) failOpen(key string, err error) Decision {
	if l.log != nil {
		l.log.Warn("rate limiter store unreachable, failing open",
			zap.String("limiter", l.name),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	metrics.RateLimitDecisions.WithLabelValues(l.name, "fail_open").Inc()
	return Decision{Allowed: true, Remaining: 0, ResetAt: time.Now().Add(l.window)}
}

func fmtScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func timeFromScore(s float64) time.Time {
	return time.UnixMilli(int64(s))
}
