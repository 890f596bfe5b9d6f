package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Default burst quota: the API throttles at 50 requests per 2 seconds, we
// stay under it.
const (
	DefaultBurstRequests = 45
	DefaultBurstWindow   = 2 * time.Second
)

// Config holds the Governor quota parameters.
type Config struct {
	// BurstRequests is the number of requests allowed per BurstWindow.
	BurstRequests int

	// BurstWindow is the short throttle window.
	BurstWindow time.Duration

	// BucketMax is the call budget bucket capacity.
	BucketMax int

	// BucketRefillRate is the number of tokens credited per refill interval.
	BucketRefillRate int

	// BucketRefillInterval is the refill interval.
	BucketRefillInterval time.Duration
}

// DefaultConfig returns the published Teams API quota, slightly
// conservative on the burst side.
func DefaultConfig() Config {
	return Config{
		BurstRequests:        DefaultBurstRequests,
		BurstWindow:          DefaultBurstWindow,
		BucketMax:            DefaultBucketMax,
		BucketRefillRate:     DefaultBucketRefillRate,
		BucketRefillInterval: DefaultBucketRefillInterval,
	}
}

// Governor gates every outbound API call behind two independent quotas:
// the burst window and the token budget. It never fails on API errors; it
// only delays callers. The Governor is the single shared mutable resource
// of a harvest run and is safe for arbitrary concurrent callers.
type Governor struct {
	burst  *rate.Limiter
	bucket *TokenBucket
	config Config
}

// NewGovernor creates a Governor from cfg. Zero fields fall back to the
// defaults.
func NewGovernor(cfg Config, logger zerolog.Logger) (*Governor, error) {
	def := DefaultConfig()
	if cfg.BurstRequests <= 0 {
		cfg.BurstRequests = def.BurstRequests
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = def.BurstWindow
	}
	if cfg.BucketMax <= 0 {
		cfg.BucketMax = def.BucketMax
	}
	if cfg.BucketRefillRate <= 0 {
		cfg.BucketRefillRate = def.BucketRefillRate
	}
	if cfg.BucketRefillInterval <= 0 {
		cfg.BucketRefillInterval = def.BucketRefillInterval
	}

	bucket, err := NewTokenBucket(cfg.BucketMax, cfg.BucketRefillRate, cfg.BucketRefillInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("create token bucket: %w", err)
	}

	interval := cfg.BurstWindow / time.Duration(cfg.BurstRequests)
	return &Governor{
		burst:  rate.NewLimiter(rate.Every(interval), cfg.BurstRequests),
		bucket: bucket,
		config: cfg,
	}, nil
}

// Acquire blocks until both gates admit one call. The only errors it
// returns are context errors.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.burst.Wait(ctx); err != nil {
		return err
	}
	return g.bucket.Acquire(ctx)
}

// BurstLimit returns the configured burst window size. The orchestrator
// derives its concurrency ceiling from it.
func (g *Governor) BurstLimit() int {
	return g.config.BurstRequests
}

// TokensRemaining reports the budget bucket level.
func (g *Governor) TokensRemaining() int {
	return g.bucket.Tokens()
}

// Reset restores the full budget between runs. The burst window is
// self-draining and needs no reset.
func (g *Governor) Reset() {
	g.bucket.Reset()
}
