package pagination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func pages(total int, perPage int) FetchPageFunc[int] {
	return func(ctx context.Context, page, pageSize int) (Page[int], error) {
		items := make([]int, 0, perPage)
		for i := 0; i < perPage; i++ {
			items = append(items, (page-1)*perPage+i)
		}
		return Page[int]{
			TotalPages: total,
			Page:       page,
			Items:      items,
		}, nil
	}
}

func TestFetchAll_CollectsAllPagesInOrder(t *testing.T) {
	got := FetchAll(context.Background(), pages(3, 2), zerolog.Nop())

	want := []int{0, 1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFetchAll_SinglePage(t *testing.T) {
	got := FetchAll(context.Background(), pages(1, 5), zerolog.Nop())
	if len(got) != 5 {
		t.Errorf("len = %d, want 5", len(got))
	}
}

func TestFetchAll_FirstPageFailureReturnsEmpty(t *testing.T) {
	fetch := func(ctx context.Context, page, pageSize int) (Page[int], error) {
		return Page[int]{}, errors.New("boom")
	}

	got := FetchAll(context.Background(), fetch, zerolog.Nop())
	if got == nil {
		t.Fatal("FetchAll() = nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestFetchAll_MidWalkFailureReturnsPartial(t *testing.T) {
	inner := pages(4, 10)
	fetch := func(ctx context.Context, page, pageSize int) (Page[int], error) {
		if page == 3 {
			return Page[int]{}, errors.New("persistent server error")
		}
		return inner(ctx, page, pageSize)
	}

	got := FetchAll(context.Background(), fetch, zerolog.Nop())
	if len(got) != 20 {
		t.Errorf("len = %d, want 20 (two full pages before the failure)", len(got))
	}
}

func TestFetchAll_TotalPagesFixedAfterFirstResponse(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, page, pageSize int) (Page[int], error) {
		calls++
		// Later pages claim a larger collection; the first response wins.
		total := 2
		if page > 1 {
			total = 50
		}
		return Page[int]{TotalPages: total, Items: []int{page}}, nil
	}

	got := FetchAll(context.Background(), fetch, zerolog.Nop())
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestFilterByCreation_WindowIncludesFullFinalDay(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	created := map[int64]time.Time{
		1: from.Add(-time.Second),         // before window
		2: from,                           // inclusive start
		3: to.Add(12 * time.Hour),         // inside the final day
		4: to.Add(24*time.Hour - time.Second), // last second of the final day
		5: to.Add(24 * time.Hour),         // first second past the window
	}

	cfg := DateFilter[int64]{
		From: from,
		To:   to,
		LookupCreated: func(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
			out := make(map[int64]time.Time, len(ids))
			for _, id := range ids {
				if ts, ok := created[id]; ok {
					out[id] = ts
				}
			}
			return out, nil
		},
		FetchFull: func(ctx context.Context, id int64) (int64, error) { return id, nil },
		Fallback:  func(id int64) (int64, bool) { return 0, false },
	}

	got := FilterByCreation(context.Background(), []int64{1, 2, 3, 4, 5}, cfg, zerolog.Nop())

	want := []int64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("retained = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("retained[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFilterByCreation_LookupBatching(t *testing.T) {
	var batchSizes []int
	cfg := DateFilter[int64]{
		From:            time.Unix(0, 0),
		To:              time.Now(),
		LookupBatchSize: 20,
		LookupCreated: func(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
			batchSizes = append(batchSizes, len(ids))
			return map[int64]time.Time{}, nil
		},
		FetchFull: func(ctx context.Context, id int64) (int64, error) { return id, nil },
		Fallback:  func(id int64) (int64, bool) { return 0, false },
	}

	ids := make([]int64, 45)
	for i := range ids {
		ids[i] = int64(i)
	}
	FilterByCreation(context.Background(), ids, cfg, zerolog.Nop())

	if len(batchSizes) != 3 || batchSizes[0] != 20 || batchSizes[1] != 20 || batchSizes[2] != 5 {
		t.Errorf("lookup batch sizes = %v, want [20 20 5]", batchSizes)
	}
}

func TestFilterByCreation_FailedLookupBatchDropped(t *testing.T) {
	now := time.Now()
	cfg := DateFilter[int64]{
		From:            now.Add(-time.Hour),
		To:              now,
		LookupBatchSize: 2,
		LookupCreated: func(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
			if ids[0] == 1 {
				return nil, errors.New("legacy endpoint down")
			}
			out := make(map[int64]time.Time, len(ids))
			for _, id := range ids {
				out[id] = now
			}
			return out, nil
		},
		FetchFull: func(ctx context.Context, id int64) (int64, error) { return id, nil },
		Fallback:  func(id int64) (int64, bool) { return 0, false },
	}

	got := FilterByCreation(context.Background(), []int64{1, 2, 3, 4}, cfg, zerolog.Nop())

	// The first batch {1,2} is dropped; {3,4} survives.
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("retained = %v, want [3 4]", got)
	}
}

func TestFilterByCreation_RefetchFallsBackToLegacy(t *testing.T) {
	now := time.Now()
	cfg := DateFilter[string]{
		From: now.Add(-time.Hour),
		To:   now,
		LookupCreated: func(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
			out := make(map[int64]time.Time, len(ids))
			for _, id := range ids {
				out[id] = now
			}
			return out, nil
		},
		FetchFull: func(ctx context.Context, id int64) (string, error) {
			if id == 2 {
				return "", errors.New("not found in primary")
			}
			return "full", nil
		},
		Fallback: func(id int64) (string, bool) { return "legacy", true },
	}

	got := FilterByCreation(context.Background(), []int64{1, 2, 3}, cfg, zerolog.Nop())

	want := []string{"full", "legacy", "full"}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
