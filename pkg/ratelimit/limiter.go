// Package ratelimit implements the per-{service,model} token bucket
// described in spec §3/§4/§9: capacity refilled lazily on read,
// updated atomically via pkg/hotstore's CAS primitive, and degraded
// to an in-process bucket when the hot store is unavailable. No
// library in the retrieval pack implements token-bucket math directly
// (jordigilh-kubernaut's gateway rate limiter is test-only scaffolding
// with no shippable implementation), so this is a deliberate
// standard-library component — see DESIGN.md.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/e2eforge/forge/pkg/apperr"
	"github.com/e2eforge/forge/pkg/hotstore"
	"github.com/e2eforge/forge/pkg/model"
)

// casConflictRetries bounds how many times Wait retries a lost
// compare-and-swap race on the hot-store bucket before giving up and
// treating the call as rate-limited.
const casConflictRetries = 5

// Config parameterises a Limiter's default bucket shape; callers may
// register per-{service,model} overrides via SetLimits.
type Config struct {
	DefaultCapacity     float64
	DefaultRefillPerSec float64
	MaxRetries          int
}

// bucketLimits is the static capacity/refill-rate pair for one
// {service,model}; distinct from the mutable token count the bucket
// tracks over time.
type bucketLimits struct {
	capacity float64
	refill   float64
}

// Limiter is the token-bucket rate limiter over pkg/hotstore, with an
// in-process fallback used when the hot store is unreachable.
type Limiter struct {
	hot        *hotstore.Client
	defaults   Config
	maxRetries int

	mu       sync.Mutex
	limits   map[string]bucketLimits
	fallback map[string]*model.RateLimitBucket
}

// New constructs a Limiter. hot may later become unreachable at
// runtime (not just at construction); Wait detects that per-call and
// falls back transparently.
func New(hot *hotstore.Client, cfg Config) *Limiter {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Limiter{
		hot:        hot,
		defaults:   cfg,
		maxRetries: maxRetries,
		limits:     make(map[string]bucketLimits),
		fallback:   make(map[string]*model.RateLimitBucket),
	}
}

func key(service, modelName string) string { return service + "|" + modelName }

// SetLimits overrides the capacity/refill rate for one {service,model}
// pair, e.g. when a provider advertises a different RPM per model.
func (l *Limiter) SetLimits(service, modelName string, capacity, refillPerSec float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[key(service, modelName)] = bucketLimits{capacity: capacity, refill: refillPerSec}
}

func (l *Limiter) limitsFor(service, modelName string) bucketLimits {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bl, ok := l.limits[key(service, modelName)]; ok {
		return bl
	}
	capacity := l.defaults.DefaultCapacity
	if capacity <= 0 {
		capacity = 60
	}
	refill := l.defaults.DefaultRefillPerSec
	if refill <= 0 {
		refill = 1
	}
	return bucketLimits{capacity: capacity, refill: refill}
}

// Wait blocks (honoring ctx) until one token is available for
// {service,model}, consuming it before returning. It retries a lost
// hot-store CAS race with jittered backoff up to casConflictRetries
// times, and degrades to the in-process fallback bucket if the hot
// store itself errors (spec §9 "Rate-limit fallback").
func (l *Limiter) Wait(ctx context.Context, service, modelName string) error {
	limits := l.limitsFor(service, modelName)

	for attempt := 0; attempt < casConflictRetries; attempt++ {
		waitFor, ok, err := l.tryConsume(ctx, service, modelName, limits)
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(jitter(10*time.Millisecond, 40*time.Millisecond)):
				}
				continue
			}
			slog.Warn("rate limiter hot store unavailable, degrading to in-process bucket",
				"service", service, "model", modelName, "error", err)
			return l.waitLocal(ctx, service, modelName, limits)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitFor):
		}
	}
	return apperr.New(apperr.KindProvider, "rate limit exceeded", nil)
}

// tryConsume attempts a single refill+consume CAS round against the
// hot store. ok is true if a token was consumed; if false, waitFor is
// how long the caller should sleep before the bucket would next have
// a token.
func (l *Limiter) tryConsume(ctx context.Context, service, modelName string, limits bucketLimits) (waitFor time.Duration, ok bool, err error) {
	if l.hot == nil {
		return 0, false, errors.New("hot store not configured")
	}

	now := time.Now()
	current, err := l.hot.GetBucket(ctx, service, modelName)
	expected := time.Time{}
	if errors.Is(err, apperr.ErrNotFound) {
		current = &model.RateLimitBucket{Service: service, Model: modelName, Capacity: limits.capacity, Tokens: limits.capacity, UpdatedAt: now}
	} else if err != nil {
		return 0, false, err
	} else {
		expected = current.UpdatedAt
	}

	refilled := refill(*current, limits, now)
	if refilled.Tokens < 1 {
		deficit := 1 - refilled.Tokens
		waitFor = time.Duration(deficit / limits.refill * float64(time.Second))
		return waitFor, false, nil
	}

	refilled.Tokens -= 1
	refilled.UpdatedAt = now
	if err := l.hot.CompareAndSwapBucket(ctx, service, modelName, expected, refilled); err != nil {
		return 0, false, err
	}
	return 0, true, nil
}

func refill(b model.RateLimitBucket, limits bucketLimits, now time.Time) model.RateLimitBucket {
	if b.Capacity == 0 {
		b.Capacity = limits.capacity
	}
	elapsed := now.Sub(b.UpdatedAt).Seconds()
	if elapsed > 0 {
		b.Tokens = min(b.Capacity, b.Tokens+elapsed*limits.refill)
	}
	return b
}

// waitLocal is the per-process fallback bucket used when the hot
// store cannot be reached at all, per spec §9: correctness holds,
// cross-process coordination is weakened.
func (l *Limiter) waitLocal(ctx context.Context, service, modelName string, limits bucketLimits) error {
	for {
		l.mu.Lock()
		b, ok := l.fallback[key(service, modelName)]
		now := time.Now()
		if !ok {
			b = &model.RateLimitBucket{Service: service, Model: modelName, Capacity: limits.capacity, Tokens: limits.capacity, UpdatedAt: now}
			l.fallback[key(service, modelName)] = b
		}
		refilled := refill(*b, limits, now)
		if refilled.Tokens >= 1 {
			refilled.Tokens -= 1
			refilled.UpdatedAt = now
			l.fallback[key(service, modelName)] = &refilled
			l.mu.Unlock()
			return nil
		}
		deficit := 1 - refilled.Tokens
		wait := time.Duration(deficit / limits.refill * float64(time.Second))
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// jitter returns a random duration in [min, max), used to decorrelate
// concurrent callers retrying the same bucket.
func jitter(minD, maxD time.Duration) time.Duration {
	if maxD <= minD {
		return minD
	}
	return minD + time.Duration(rand.Int64N(int64(maxD-minD)))
}
