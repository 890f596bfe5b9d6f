// Package ratelimit implements the request quota gates for the Teams API:
// a burst gate bounding short-window request rate and a token bucket
// tracking the longer-window call budget. Every outbound call must pass
// both gates before the request is issued.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for token bucket state.
var (
	bucketTokensRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_bucket_tokens_remaining",
		Help: "Tokens remaining in the API call budget bucket",
	})

	bucketWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_bucket_waits_total",
		Help: "Total number of acquisitions that had to wait for a refill",
	})
)

// Default budget quota published for the Teams API v3.
const (
	DefaultBucketMax            = 5000
	DefaultBucketRefillRate     = 100
	DefaultBucketRefillInterval = 60 * time.Second
)

// TokenBucket is a call budget that refills at a fixed rate per fixed
// interval. Acquire blocks until at least one token is available, then
// consumes exactly one. All state is guarded by a single mutex; refill
// credits only whole elapsed intervals and never double-counts a partial
// interval.
type TokenBucket struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillRate     int
	refillInterval time.Duration
	lastRefill     time.Time

	now    func() time.Time
	logger zerolog.Logger
}

// NewTokenBucket creates a full bucket. maxTokens, refillRate and
// refillInterval must be positive.
func NewTokenBucket(maxTokens, refillRate int, refillInterval time.Duration, logger zerolog.Logger) (*TokenBucket, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive (got %d)", maxTokens)
	}
	if refillRate <= 0 {
		return nil, fmt.Errorf("refill rate must be positive (got %d)", refillRate)
	}
	if refillInterval <= 0 {
		return nil, fmt.Errorf("refill interval must be positive (got %s)", refillInterval)
	}

	b := &TokenBucket{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillRate:     refillRate,
		refillInterval: refillInterval,
		now:            time.Now,
		logger:         logger,
	}
	b.lastRefill = b.now()
	bucketTokensRemaining.Set(float64(b.tokens))
	return b, nil
}

// refillLocked credits whole elapsed intervals. lastRefill advances by the
// consumed intervals only, so partial intervals keep accruing.
func (b *TokenBucket) refillLocked() {
	elapsed := b.now().Sub(b.lastRefill)
	intervals := int(elapsed / b.refillInterval)
	if intervals <= 0 {
		return
	}

	b.tokens += intervals * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.refillInterval)

	b.logger.Debug().
		Int("tokens", b.tokens).
		Int("max_tokens", b.maxTokens).
		Msg("Token bucket refilled")
}

// Acquire blocks until a token is available and consumes it. It returns
// only when a token was consumed or the context was cancelled.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	waited := false
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens > 0 {
			b.tokens--
			bucketTokensRemaining.Set(float64(b.tokens))
			b.mu.Unlock()
			return nil
		}
		wait := b.refillInterval - b.now().Sub(b.lastRefill)
		b.mu.Unlock()

		if !waited {
			bucketWaitsTotal.Inc()
			waited = true
			b.logger.Warn().
				Dur("wait", wait).
				Msg("Token bucket empty, waiting for refill")
		}
		if wait <= 0 {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Tokens returns the current token count after applying due refills.
func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Reset restores a full bucket. Intended for reuse between harvest runs.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.maxTokens
	b.lastRefill = b.now()
	bucketTokensRemaining.Set(float64(b.tokens))
}

// SetClock overrides the bucket's time source (for testing).
func (b *TokenBucket) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.lastRefill = now()
}
