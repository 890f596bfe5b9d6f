// Package batch runs per-key fetch operations concurrently in fixed
// batches with a bounded worker ceiling.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_batch_items_total",
		Help: "Total batch items processed by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_batch_duration_seconds",
		Help:    "Duration of full batch runs in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900},
	})
)

// Defaults for the orchestrator. MaxConcurrency is additionally capped at
// a quarter of the burst limit so one batch cannot monopolize the window.
const (
	DefaultBatchSize       = 50
	DefaultMaxConcurrency  = 10
	DefaultInterBatchPause = 500 * time.Millisecond
)

// Config controls a batch run.
type Config struct {
	// BatchSize is the number of keys per batch. Default 50.
	BatchSize int

	// MaxConcurrency is the worker ceiling within a batch. Default
	// min(10, BurstLimit/4).
	MaxConcurrency int

	// BurstLimit is the governor's burst size, used to derive the
	// concurrency ceiling when MaxConcurrency is unset.
	BurstLimit int

	// InterBatchPause is the sleep between consecutive batches.
	InterBatchPause time.Duration

	// OnProgress, when set, is invoked after each batch with the number of
	// completed keys and the total. Called from the batch loop goroutine.
	OnProgress func(done, total int)

	// Logger used for per-item warnings.
	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
		if c.BurstLimit > 0 && c.BurstLimit/4 < c.MaxConcurrency {
			c.MaxConcurrency = c.BurstLimit / 4
		}
		if c.MaxConcurrency < 1 {
			c.MaxConcurrency = 1
		}
	}
	if c.InterBatchPause < 0 {
		c.InterBatchPause = 0
	}
}

// Operation fetches the value for a single key.
type Operation[K comparable, V any] func(ctx context.Context, key K) (V, error)

// ForEach runs op for every key and returns a map with exactly one entry
// per input key. A key whose operation fails maps to the zero value; the
// failure is logged and never cancels the rest of the run. On context
// cancellation the remaining keys are materialized as zero values and the
// context error is returned alongside the complete map.
func ForEach[K comparable, V any](ctx context.Context, cfg Config, keys []K, op Operation[K, V]) (map[K]V, error) {
	cfg.applyDefaults()

	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	results := make(map[K]V, len(keys))
	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	done := 0

	for batchStart := 0; batchStart < len(keys); batchStart += cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}

		batchEnd := batchStart + cfg.BatchSize
		if batchEnd > len(keys) {
			batchEnd = len(keys)
		}

		var wg sync.WaitGroup
		for _, key := range keys[batchStart:batchEnd] {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}

			wg.Add(1)
			go func(key K) {
				defer wg.Done()
				defer sem.Release(1)

				value, err := op(ctx, key)
				if err != nil {
					batchItemsTotal.WithLabelValues("failed").Inc()
					cfg.Logger.Warn().
						Any("key", key).
						Err(err).
						Msg("Batch item failed, recording zero value")
					var zero V
					value = zero
				} else {
					batchItemsTotal.WithLabelValues("ok").Inc()
				}

				mu.Lock()
				results[key] = value
				mu.Unlock()
			}(key)
		}
		wg.Wait()

		done = batchEnd
		if cfg.OnProgress != nil {
			cfg.OnProgress(done, len(keys))
		}

		if batchEnd < len(keys) && cfg.InterBatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.InterBatchPause):
			}
		}
	}

	// Completeness contract: every input key gets an entry even when the
	// run was cut short.
	mu.Lock()
	for _, key := range keys {
		if _, ok := results[key]; !ok {
			var zero V
			results[key] = zero
		}
	}
	mu.Unlock()

	return results, ctx.Err()
}
