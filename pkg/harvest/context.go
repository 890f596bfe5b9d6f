package harvest

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stackharvest/harvester/pkg/api"
	"github.com/stackharvest/harvester/pkg/cache"
)

// HarvestContext carries the run-scoped lookup state: memo caches for
// tag experts and legacy user details, optionally backed by Redis. All
// state lives on the instance, so concurrent harvests never interfere.
type HarvestContext struct {
	api   *api.API
	cache *cache.Manager

	mu             sync.Mutex
	tagExpertsMemo map[int64][]int64
	userDetailMemo map[int64]api.LegacyUser

	logger zerolog.Logger
}

func newHarvestContext(a *api.API, mgr *cache.Manager, logger zerolog.Logger) *HarvestContext {
	return &HarvestContext{
		api:            a,
		cache:          mgr,
		tagExpertsMemo: make(map[int64][]int64),
		userDetailMemo: make(map[int64]api.LegacyUser),
		logger:         logger,
	}
}

// TagExperts resolves the expert user ids for a tag: memo first, then
// the Redis cache, then the API. Cache failures degrade to an API call.
func (hc *HarvestContext) TagExperts(ctx context.Context, tagID int64) ([]int64, error) {
	hc.mu.Lock()
	if ids, ok := hc.tagExpertsMemo[tagID]; ok {
		hc.mu.Unlock()
		return ids, nil
	}
	hc.mu.Unlock()

	key := cache.TagExpertsKey(tagID)
	if hc.cache != nil {
		var ids []int64
		err := hc.cache.Get(ctx, key, &ids)
		if err == nil {
			hc.memoTagExperts(tagID, ids)
			return ids, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			hc.logger.Warn().Int64("tag_id", tagID).Err(err).Msg("Tag expert cache read failed")
		}
	}

	experts, err := hc.api.TagExperts(ctx, tagID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(experts))
	for _, e := range experts {
		ids = append(ids, e.ID)
	}

	hc.memoTagExperts(tagID, ids)
	if hc.cache != nil {
		if err := hc.cache.Set(ctx, key, ids); err != nil {
			hc.logger.Warn().Int64("tag_id", tagID).Err(err).Msg("Tag expert cache write failed")
		}
	}
	return ids, nil
}

func (hc *HarvestContext) memoTagExperts(tagID int64, ids []int64) {
	hc.mu.Lock()
	hc.tagExpertsMemo[tagID] = ids
	hc.mu.Unlock()
}

// UserDetails resolves legacy records for the given ids, consulting the
// memo and Redis caches before batching the remainder to the API. The
// returned map holds whatever resolved; missing ids are absent.
func (hc *HarvestContext) UserDetails(ctx context.Context, ids []int64) map[int64]api.LegacyUser {
	results := make(map[int64]api.LegacyUser, len(ids))
	var missing []int64

	for _, id := range ids {
		hc.mu.Lock()
		lu, ok := hc.userDetailMemo[id]
		hc.mu.Unlock()
		if ok {
			results[id] = lu
			continue
		}

		if hc.cache != nil {
			var cached api.LegacyUser
			err := hc.cache.Get(ctx, cache.UserDetailKey(id), &cached)
			if err == nil {
				results[id] = cached
				hc.memoUserDetail(cached)
				continue
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				hc.logger.Warn().Int64("user_id", id).Err(err).Msg("User detail cache read failed")
			}
		}

		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return results
	}

	fetched := hc.api.UserDetails(ctx, missing)
	for id, lu := range fetched {
		results[id] = lu
		hc.memoUserDetail(lu)
		if hc.cache != nil {
			if err := hc.cache.Set(ctx, cache.UserDetailKey(id), lu); err != nil {
				hc.logger.Warn().Int64("user_id", id).Err(err).Msg("User detail cache write failed")
			}
		}
	}
	return results
}

func (hc *HarvestContext) memoUserDetail(lu api.LegacyUser) {
	hc.mu.Lock()
	hc.userDetailMemo[lu.UserID] = lu
	hc.mu.Unlock()
}
