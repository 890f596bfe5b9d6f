// Package pagination walks paginated API collections and provides the
// two-phase creation-date filter built on the legacy endpoint.
package pagination

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPageSize is the page size requested from paginated endpoints.
const DefaultPageSize = 100

// Page is one page of a paginated collection response.
type Page[T any] struct {
	TotalCount int `json:"totalCount"`
	PageSize   int `json:"pageSize"`
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
	Items      []T `json:"items"`
}

// FetchPageFunc fetches one page of a collection.
type FetchPageFunc[T any] func(ctx context.Context, page, pageSize int) (Page[T], error)

// FetchAll walks a paginated collection from page 1 and returns all items
// in page order. The totalPages value of the first successful response is
// trusted for the rest of the walk. A page that still fails after the
// client's retries ends the walk with the partial result; a first-page
// failure yields an empty slice. FetchAll never returns an error: partial
// data beats no data for a harvest run.
func FetchAll[T any](ctx context.Context, fetch FetchPageFunc[T], logger zerolog.Logger) []T {
	items := []T{}
	totalPages := 0

	for page := 1; ; page++ {
		resp, err := fetch(ctx, page, DefaultPageSize)
		if err != nil {
			logger.Warn().
				Int("page", page).
				Int("collected", len(items)).
				Err(err).
				Msg("Page fetch failed, returning partial result")
			return items
		}

		items = append(items, resp.Items...)

		if totalPages == 0 {
			totalPages = resp.TotalPages
		}
		if page >= totalPages {
			return items
		}

		if ctx.Err() != nil {
			logger.Warn().
				Int("page", page).
				Int("collected", len(items)).
				Msg("Pagination walk cancelled")
			return items
		}
	}
}

// DateFilter configures the two-phase creation-date filter. The primary
// API omits raw creation timestamps, so candidates are resolved through a
// batched legacy lookup and filtered client-side before full records are
// re-fetched.
type DateFilter[T any] struct {
	// From is the inclusive start of the window.
	From time.Time

	// To is the last day of the window; the window extends 24 h past it so
	// the whole final day is included.
	To time.Time

	// LookupBatchSize bounds ids per legacy lookup call. Default 20.
	LookupBatchSize int

	// RefetchBatchSize groups full-record re-fetches. Default 10.
	RefetchBatchSize int

	// LookupCreated resolves raw creation timestamps for a batch of ids.
	LookupCreated func(ctx context.Context, ids []int64) (map[int64]time.Time, error)

	// FetchFull re-fetches the full primary record for one retained id.
	FetchFull func(ctx context.Context, id int64) (T, error)

	// Fallback converts the legacy lookup data for id into a degraded
	// record when the primary re-fetch fails. ok=false skips the id.
	Fallback func(id int64) (T, bool)
}

// FilterByCreation narrows candidate ids to those created inside the
// window and returns their full records. Lookup batches that fail drop
// their ids with a warning; re-fetch failures fall back to the converted
// legacy record. Like FetchAll this degrades instead of erroring.
func FilterByCreation[T any](ctx context.Context, ids []int64, cfg DateFilter[T], logger zerolog.Logger) []T {
	lookupBatch := cfg.LookupBatchSize
	if lookupBatch <= 0 {
		lookupBatch = 20
	}
	refetchBatch := cfg.RefetchBatchSize
	if refetchBatch <= 0 {
		refetchBatch = 10
	}

	windowEnd := cfg.To.Add(24 * time.Hour)

	var retained []int64
	for start := 0; start < len(ids); start += lookupBatch {
		end := start + lookupBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		created, err := cfg.LookupCreated(ctx, batch)
		if err != nil {
			logger.Warn().
				Int("batch_size", len(batch)).
				Err(err).
				Msg("Creation-date lookup failed, dropping batch")
			continue
		}

		for _, id := range batch {
			ts, ok := created[id]
			if !ok {
				continue
			}
			if !ts.Before(cfg.From) && ts.Before(windowEnd) {
				retained = append(retained, id)
			}
		}

		if ctx.Err() != nil {
			break
		}
	}

	logger.Info().
		Int("candidates", len(ids)).
		Int("retained", len(retained)).
		Time("from", cfg.From).
		Time("to", windowEnd).
		Msg("Creation-date filter applied")

	results := make([]T, 0, len(retained))
	for start := 0; start < len(retained); start += refetchBatch {
		end := start + refetchBatch
		if end > len(retained) {
			end = len(retained)
		}

		for _, id := range retained[start:end] {
			record, err := cfg.FetchFull(ctx, id)
			if err != nil {
				logger.Warn().
					Int64("id", id).
					Err(err).
					Msg("Full record re-fetch failed, using legacy fallback")
				fallback, ok := cfg.Fallback(id)
				if !ok {
					continue
				}
				record = fallback
			}
			results = append(results, record)
		}

		if ctx.Err() != nil {
			break
		}
	}

	return results
}
