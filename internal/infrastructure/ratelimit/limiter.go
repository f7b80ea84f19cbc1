// Package ratelimit implements per-resource token-bucket admission control.
//
// Buckets refill as a pure function of elapsed wall time from an injected
// clock; check-and-consume is serialized so two callers can never both take
// the last token. Bucket state is durable through the ledger repository.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doeshing/overseer/internal/domain"
	"github.com/doeshing/overseer/internal/pkg/retry"
	"github.com/doeshing/overseer/internal/ports"
)

// Decision is the outcome of a check-and-consume call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  float64
}

// Limiter manages one token bucket per resource key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*domain.RateLimitBucket
	configs map[string]domain.RateLimitConfig
	denials map[string]int
	backoff retry.Policy
	clock   ports.Clock
	log     ports.Logger
}

// New builds a limiter from per-key configuration. Keys without explicit
// configuration are unlimited.
func New(configs map[string]domain.RateLimitConfig, clock ports.Clock, log ports.Logger) *Limiter {
	return &Limiter{
		buckets: make(map[string]*domain.RateLimitBucket),
		configs: configs,
		denials: make(map[string]int),
		backoff: retry.Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute},
		clock:   clock,
		log:     log,
	}
}

// Restore seeds bucket state from a persisted snapshot, clamping tokens to
// the configured capacity in case limits were lowered since the snapshot.
func (l *Limiter) Restore(buckets []domain.RateLimitBucket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range buckets {
		bucket := b
		if cfg, ok := l.configs[b.Key]; ok {
			bucket.Capacity = cfg.RequestsPerWindow
			bucket.RefillRate = refillRate(cfg)
			bucket.Burst = cfg.Burst
		}
		if limit := bucket.Capacity + bucket.Burst; bucket.Tokens > limit {
			bucket.Tokens = limit
		}
		if bucket.Tokens < 0 {
			bucket.Tokens = 0
		}
		l.buckets[bucket.Key] = &bucket
	}
}

// Snapshot returns a copy of every bucket for persistence and inspection.
func (l *Limiter) Snapshot() []domain.RateLimitBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.RateLimitBucket, 0, len(l.buckets))
	for _, b := range l.buckets {
		l.refillLocked(b)
		out = append(out, *b)
	}
	return out
}

// CheckAndConsume atomically refills the bucket for key and either consumes
// cost tokens or leaves the bucket unchanged, reporting the delay after
// which the call would succeed.
func (l *Limiter) CheckAndConsume(key string, cost float64) Decision {
	cfg, limited := l.configs[key]
	if !limited {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &domain.RateLimitBucket{
			Key:        key,
			Tokens:     cfg.RequestsPerWindow + cfg.Burst,
			Capacity:   cfg.RequestsPerWindow,
			RefillRate: refillRate(cfg),
			Burst:      cfg.Burst,
			LastRefill: l.clock.Now(),
		}
		l.buckets[key] = b
	}

	l.refillLocked(b)

	if b.Tokens >= cost {
		b.Tokens -= cost
		l.denials[key] = 0
		return Decision{Allowed: true, Remaining: b.Tokens}
	}

	deficit := cost - b.Tokens
	var wait time.Duration
	if b.RefillRate > 0 {
		wait = time.Duration(deficit / b.RefillRate * float64(time.Second))
	}
	// Repeated denials on the same key stretch the advised delay so a hot
	// caller backs off instead of polling at the refill boundary.
	l.denials[key]++
	if penalty := l.backoff.Delay(l.denials[key]); penalty > wait {
		wait = penalty
	}
	l.log.Warn("rate limit exhausted", map[string]interface{}{
		"key":         key,
		"cost":        cost,
		"remaining":   b.Tokens,
		"retry_after": wait.String(),
	})
	return Decision{Allowed: false, RetryAfter: wait, Remaining: b.Tokens}
}

// Check wraps CheckAndConsume into the error taxonomy.
func (l *Limiter) Check(key string, cost float64) (Decision, error) {
	d := l.CheckAndConsume(key, cost)
	if !d.Allowed {
		return d, fmt.Errorf("%w: key %q, retry after %s", domain.ErrRateLimitExceeded, key, d.RetryAfter)
	}
	return d, nil
}

// Persist writes the current bucket state through the repository. Called on
// shutdown so restart reconstructs exact token counts.
func (l *Limiter) Persist(ctx context.Context, repo ports.LedgerRepository) error {
	for _, b := range l.Snapshot() {
		if err := repo.SaveBucket(ctx, b); err != nil {
			return fmt.Errorf("persist bucket %q: %w", b.Key, err)
		}
	}
	return nil
}

func (l *Limiter) refillLocked(b *domain.RateLimitBucket) {
	now := l.clock.Now()
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed <= 0 {
		b.LastRefill = now
		return
	}
	b.Tokens += elapsed * b.RefillRate
	if limit := b.Capacity + b.Burst; b.Tokens > limit {
		b.Tokens = limit
	}
	b.LastRefill = now
}

func refillRate(cfg domain.RateLimitConfig) float64 {
	if cfg.WindowSize <= 0 {
		return 0
	}
	return cfg.RequestsPerWindow / cfg.WindowSize.Std().Seconds()
}
