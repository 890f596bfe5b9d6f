package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func keys(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestForEach_OneEntryPerKey(t *testing.T) {
	cfg := Config{Logger: zerolog.Nop(), InterBatchPause: time.Millisecond}

	results, err := ForEach(context.Background(), cfg, keys(120),
		func(ctx context.Context, key int64) (string, error) {
			return fmt.Sprintf("v%d", key), nil
		})
	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}

	if len(results) != 120 {
		t.Fatalf("len(results) = %d, want 120", len(results))
	}
	for _, k := range keys(120) {
		if results[k] != fmt.Sprintf("v%d", k) {
			t.Errorf("results[%d] = %q, want v%d", k, results[k], k)
		}
	}
}

func TestForEach_FailureIsolatedToItsKey(t *testing.T) {
	cfg := Config{Logger: zerolog.Nop(), InterBatchPause: 0}

	results, err := ForEach(context.Background(), cfg, keys(50),
		func(ctx context.Context, key int64) ([]int, error) {
			if key == 17 {
				return nil, errors.New("upstream failure")
			}
			return []int{int(key)}, nil
		})
	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}

	if len(results) != 50 {
		t.Fatalf("len(results) = %d, want 50", len(results))
	}
	if results[17] != nil {
		t.Errorf("results[17] = %v, want zero value", results[17])
	}
	for _, k := range keys(50) {
		if k == 17 {
			continue
		}
		if len(results[k]) != 1 || results[k][0] != int(k) {
			t.Errorf("results[%d] = %v, want [%d]", k, results[k], k)
		}
	}
}

func TestForEach_ConcurrencyCeiling(t *testing.T) {
	var active, peak atomic.Int32

	cfg := Config{
		MaxConcurrency:  4,
		Logger:          zerolog.Nop(),
		InterBatchPause: 0,
	}

	_, err := ForEach(context.Background(), cfg, keys(40),
		func(ctx context.Context, key int64) (int, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return 0, nil
		})
	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}

	if got := peak.Load(); got > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", got)
	}
}

func TestForEach_ConcurrencyDerivedFromBurst(t *testing.T) {
	cfg := Config{BurstLimit: 8}
	cfg.applyDefaults()
	if cfg.MaxConcurrency != 2 {
		t.Errorf("MaxConcurrency = %d, want 2 (burst/4)", cfg.MaxConcurrency)
	}

	cfg = Config{BurstLimit: 100}
	cfg.applyDefaults()
	if cfg.MaxConcurrency != 10 {
		t.Errorf("MaxConcurrency = %d, want capped at 10", cfg.MaxConcurrency)
	}

	cfg = Config{BurstLimit: 2}
	cfg.applyDefaults()
	if cfg.MaxConcurrency != 1 {
		t.Errorf("MaxConcurrency = %d, want floor of 1", cfg.MaxConcurrency)
	}
}

func TestForEach_ProgressCallback(t *testing.T) {
	var mu sync.Mutex
	var reports [][2]int

	cfg := Config{
		BatchSize:       10,
		Logger:          zerolog.Nop(),
		InterBatchPause: 0,
		OnProgress: func(done, total int) {
			mu.Lock()
			reports = append(reports, [2]int{done, total})
			mu.Unlock()
		},
	}

	_, err := ForEach(context.Background(), cfg, keys(25),
		func(ctx context.Context, key int64) (int, error) { return 0, nil })
	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}

	want := [][2]int{{10, 25}, {20, 25}, {25, 25}}
	if len(reports) != len(want) {
		t.Fatalf("progress reports = %v, want %v", reports, want)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Errorf("report[%d] = %v, want %v", i, reports[i], want[i])
		}
	}
}

func TestForEach_CancellationStillMaterializesAllKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := Config{
		BatchSize:       5,
		MaxConcurrency:  2,
		Logger:          zerolog.Nop(),
		InterBatchPause: 0,
	}

	var processed atomic.Int32
	results, err := ForEach(ctx, cfg, keys(30),
		func(ctx context.Context, key int64) (int, error) {
			if processed.Add(1) == 5 {
				cancel()
			}
			return int(key), nil
		})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ForEach() error = %v, want context.Canceled", err)
	}
	if len(results) != 30 {
		t.Errorf("len(results) = %d, want 30 (zero values for unprocessed keys)", len(results))
	}
}
