package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExceededError is returned when a scope is over quota. The reason is
// human-readable and safe to surface to callers.
type ExceededError struct {
	Scope  string
	Reason string
}

// Error implements the error interface
func (e *ExceededError) Error() string {
	return e.Reason
}

// Config holds token-bucket limiter configuration
type Config struct {
	// RequestsPerMinute is the sustained refill rate per scope
	RequestsPerMinute int

	// Burst is the bucket capacity; defaults to RequestsPerMinute
	Burst int
}

// bucket holds the token state for one (tenant, user, model) scope
type bucket struct {
	tokens float64
	last   time.Time
}

// TokenBucketLimiter enforces a per-scope request rate using token buckets
// refilled continuously at the configured rate. Scopes are keyed by
// tenant:user:model.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	logger  *zap.Logger

	now func() time.Time // injectable clock for tests
}

// NewTokenBucketLimiter creates a limiter with the given configuration
func NewTokenBucketLimiter(cfg Config, logger *zap.Logger) *TokenBucketLimiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rpm
	}

	return &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rpm) / 60.0,
		burst:   float64(burst),
		logger:  logger,
		now:     time.Now,
	}
}

// Check consumes one token for the scope, returning an ExceededError when the
// bucket is empty.
func (l *TokenBucketLimiter) Check(ctx context.Context, tenantID, userID, model string) error {
	scope := buildScopeKey(tenantID, userID, model)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[scope]
	if !exists {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[scope] = b
	}

	// Refill since the last check, capped at burst capacity.
	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		l.logger.Debug("rate limit exceeded", zap.String("scope", scope))
		return &ExceededError{
			Scope: scope,
			Reason: fmt.Sprintf("exceeded %.0f requests per minute for %s",
				l.rate*60, scope),
		}
	}

	b.tokens--
	return nil
}

func buildScopeKey(tenantID, userID, model string) string {
	return tenantID + ":" + userID + ":" + model
}
