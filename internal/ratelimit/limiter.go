package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/telmed/telmed/internal/logging"
)

const (
	keyPrefix         = "rate:"
	defaultTimeout    = 2 * time.Second
	defaultFailureTTL = 15 * time.Minute
)

// allowScript increments the counter, assigns the TTL on the first increment
// and reports whether the post-increment count is within the limit, all in a
// single round-trip so concurrent callers on one key are linearized by Redis.
var allowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
    return 0
end
return 1
`)

var incrScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// Rule is a limit of Max attempts per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Key composes a counter key from a scope and an identity, e.g. "login-pin:<id>".
func Key(scope, identity string) string {
	return scope + ":" + identity
}

// Options tunes a Limiter.
type Options struct {
	// Timeout bounds every store round-trip. On expiry the call fails open.
	Timeout time.Duration
	// FailureTTL is the lifetime given to failure counters created by RecordFailure.
	FailureTTL time.Duration
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Limiter is a fixed-window counter limiter backed by Redis. Store
// unavailability never denies a caller: Allow returns true and the other
// operations become no-ops. Each such activation is counted.
type Limiter struct {
	client     *redis.Client
	timeout    time.Duration
	failureTTL time.Duration
	logger     *slog.Logger
	failOpen   *prometheus.CounterVec
}

// New builds a Limiter. A nil client is accepted and makes every call fail open.
func New(client *redis.Client, opts Options) (*Limiter, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.FailureTTL <= 0 {
		opts.FailureTTL = defaultFailureTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	failOpen := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Subsystem: "ratelimit",
		Name:      "fail_open_total",
		Help:      "Rate limiter operations that were allowed or skipped because the store was unavailable.",
	}, []string{"op"})
	if err := reg.Register(failOpen); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register fail-open counter: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("register fail-open counter: %w", err)
		}
		failOpen = existing
	}

	return &Limiter{
		client:     client,
		timeout:    opts.Timeout,
		failureTTL: opts.FailureTTL,
		logger:     opts.Logger,
		failOpen:   failOpen,
	}, nil
}

// Allow counts one attempt against key and reports whether it is within
// maxAttempts for the current window.
func (l *Limiter) Allow(ctx context.Context, key string, maxAttempts int, window time.Duration) bool {
	if l.client == nil {
		l.recordFailOpen("allow", key, nil)
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	allowed, err := allowScript.Run(ctx, l.client, []string{keyPrefix + key}, windowSeconds(window), maxAttempts).Int()
	if err != nil {
		l.recordFailOpen("allow", key, err)
		return true
	}
	return allowed == 1
}

// AllowRule is Allow with the limit taken from r.
func (l *Limiter) AllowRule(ctx context.Context, key string, r Rule) bool {
	return l.Allow(ctx, key, r.Max, r.Window)
}

// RecordFailure increments the counter for key without evaluating a limit and
// returns the count so far in the current window. It returns 0 when the store
// is unavailable.
func (l *Limiter) RecordFailure(ctx context.Context, key string) int64 {
	if l.client == nil {
		l.recordFailOpen("record_failure", key, nil)
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	n, err := incrScript.Run(ctx, l.client, []string{keyPrefix + key}, windowSeconds(l.failureTTL)).Int64()
	if err != nil {
		l.recordFailOpen("record_failure", key, err)
		return 0
	}
	return n
}

// Reset deletes the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) {
	if l.client == nil {
		l.recordFailOpen("reset", key, nil)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		l.recordFailOpen("reset", key, err)
	}
}

func (l *Limiter) recordFailOpen(op, key string, err error) {
	l.failOpen.WithLabelValues(op).Inc()
	if err != nil {
		scope, id := splitKey(key)
		l.logger.Warn("rate limiter failing open",
			slog.String("op", op),
			slog.String("scope", scope),
			slog.String("identity", logging.MaskPhone(id)),
			slog.Any("error", err),
		)
	}
}

// splitKey separates a key built by Key into its scope and identity.
func splitKey(key string) (string, string) {
	scope, id, ok := strings.Cut(key, ":")
	if !ok {
		return "", key
	}
	return scope, id
}

func windowSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
