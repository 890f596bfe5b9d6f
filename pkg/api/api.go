package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stackharvest/harvester/pkg/client"
	"github.com/stackharvest/harvester/pkg/pagination"
)

// legacyBatchSize bounds ids per legacy user lookup call.
const legacyBatchSize = 20

// CallCounters tracks API calls per backend for the run summary.
type CallCounters struct {
	primary atomic.Int64
	legacy  atomic.Int64
}

// Primary returns the number of primary API calls issued.
func (c *CallCounters) Primary() int64 { return c.primary.Load() }

// Legacy returns the number of legacy API calls issued.
func (c *CallCounters) Legacy() int64 { return c.legacy.Load() }

// Config holds the API wrapper configuration.
type Config struct {
	// Client is the rate-limited transport (REQUIRED).
	Client *client.Client

	// Site resolves endpoint URLs (REQUIRED, from NewSite).
	Site Site

	// Key and AccessToken authenticate legacy calls via query parameters
	// when the deployment requires them. Optional; the bearer header is
	// always sent.
	Key         string
	AccessToken string

	// Counters receives per-backend call counts. Optional.
	Counters *CallCounters
}

// API wraps the harvested endpoints of one site.
type API struct {
	client      *client.Client
	site        Site
	key         string
	accessToken string
	counters    *CallCounters
	logger      zerolog.Logger
}

// New creates the endpoint wrapper.
func New(cfg Config) (*API, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Site.v3Base == "" {
		return nil, fmt.Errorf("site is required")
	}

	counters := cfg.Counters
	if counters == nil {
		counters = &CallCounters{}
	}

	return &API{
		client:      cfg.Client,
		site:        cfg.Site,
		key:         cfg.Key,
		accessToken: cfg.AccessToken,
		counters:    counters,
		logger:      log.With().Str("component", "api").Logger(),
	}, nil
}

// fetchCollection walks a paginated primary endpoint to completion.
func fetchCollection[T any](ctx context.Context, a *API, path string, params url.Values) []T {
	fetch := func(ctx context.Context, page, pageSize int) (pagination.Page[T], error) {
		q := url.Values{}
		for key, values := range params {
			q[key] = values
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(pageSize))

		a.counters.primary.Add(1)
		var out pagination.Page[T]
		err := a.client.GetJSON(ctx, a.site.V3(path), q, &out)
		return out, err
	}
	return pagination.FetchAll(ctx, fetch, a.logger.With().Str("path", path).Logger())
}

// Users fetches every user on the site.
func (a *API) Users(ctx context.Context) []User {
	return fetchCollection[User](ctx, a, "/users", nil)
}

// User fetches a single full user record.
func (a *API) User(ctx context.Context, id int64) (User, error) {
	a.counters.primary.Add(1)
	var out User
	err := a.client.GetJSON(ctx, a.site.V3(fmt.Sprintf("/users/%d", id)), nil, &out)
	return out, err
}

// UsersCreatedBetween fetches the users whose accounts were created in
// [from, to] (the final day counted in full). The primary API does not
// expose creation timestamps, so candidates are resolved through the
// legacy endpoint and the survivors re-fetched from the primary API, with
// a degraded legacy-derived record when the re-fetch fails.
func (a *API) UsersCreatedBetween(ctx context.Context, from, to time.Time) []User {
	candidates := a.Users(ctx)
	ids := make([]int64, 0, len(candidates))
	for _, u := range candidates {
		ids = append(ids, u.ID)
	}

	legacyByID := make(map[int64]LegacyUser, len(ids))

	filter := pagination.DateFilter[User]{
		From:             from,
		To:               to,
		LookupBatchSize:  legacyBatchSize,
		RefetchBatchSize: 10,
		LookupCreated: func(ctx context.Context, batch []int64) (map[int64]time.Time, error) {
			details, err := a.lookupLegacy(ctx, batch)
			if err != nil {
				return nil, err
			}
			out := make(map[int64]time.Time, len(details))
			for id, lu := range details {
				legacyByID[id] = lu
				out[id] = lu.CreatedAt()
			}
			return out, nil
		},
		FetchFull: a.User,
		Fallback: func(id int64) (User, bool) {
			lu, ok := legacyByID[id]
			if !ok {
				return User{}, false
			}
			return User{
				ID:         lu.UserID,
				AccountID:  lu.AccountID,
				Name:       lu.DisplayName,
				Reputation: lu.Reputation,
				WebURL:     lu.Link,
			}, true
		},
	}

	return pagination.FilterByCreation(ctx, ids, filter, a.logger)
}

// Questions fetches every question on the site.
func (a *API) Questions(ctx context.Context) []Question {
	return fetchCollection[Question](ctx, a, "/questions", nil)
}

// QuestionsByAuthor fetches the questions asked by one user.
func (a *API) QuestionsByAuthor(ctx context.Context, authorID int64) []Question {
	params := url.Values{"authorId": {strconv.FormatInt(authorID, 10)}}
	return fetchCollection[Question](ctx, a, "/questions", params)
}

// Articles fetches every article on the site.
func (a *API) Articles(ctx context.Context) []Article {
	return fetchCollection[Article](ctx, a, "/articles", nil)
}

// ArticlesByAuthor fetches the articles written by one user.
func (a *API) ArticlesByAuthor(ctx context.Context, authorID int64) []Article {
	params := url.Values{"authorId": {strconv.FormatInt(authorID, 10)}}
	return fetchCollection[Article](ctx, a, "/articles", params)
}

// AnswersForQuestion fetches the answers posted to one question.
func (a *API) AnswersForQuestion(ctx context.Context, questionID int64) []Answer {
	path := fmt.Sprintf("/questions/%d/answers", questionID)
	return fetchCollection[Answer](ctx, a, path, nil)
}

// TagExperts returns the users designated subject-matter experts for a
// tag. Tags without an expert configuration answer with a client error;
// that is an empty expert list, not a failure. Every other error,
// exhausted retries included, propagates so callers can count the tag
// as unresolved.
func (a *API) TagExperts(ctx context.Context, tagID int64) ([]UserSummary, error) {
	a.counters.primary.Add(1)
	var out subjectMatterExperts
	path := fmt.Sprintf("/tags/%d/subject-matter-experts", tagID)
	err := a.client.GetJSON(ctx, a.site.V3(path), nil, &out)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Class == client.ClassClient {
			return nil, nil
		}
		return nil, err
	}
	return out.Users, nil
}

// UserDetails fetches legacy user records, ids batched into single
// semicolon-joined lookups. Failed batches drop their ids with a
// warning; the map carries whatever resolved.
func (a *API) UserDetails(ctx context.Context, ids []int64) map[int64]LegacyUser {
	results := make(map[int64]LegacyUser, len(ids))

	for start := 0; start < len(ids); start += legacyBatchSize {
		end := start + legacyBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		details, err := a.lookupLegacy(ctx, ids[start:end])
		if err != nil {
			a.logger.Warn().
				Int("batch_size", end-start).
				Err(err).
				Msg("Legacy user lookup failed, dropping batch")
			continue
		}
		for id, lu := range details {
			results[id] = lu
		}

		if ctx.Err() != nil {
			break
		}
	}

	return results
}

// lookupLegacy performs one legacy user lookup for up to legacyBatchSize
// ids.
func (a *API) lookupLegacy(ctx context.Context, ids []int64) (map[int64]LegacyUser, error) {
	if len(ids) == 0 {
		return map[int64]LegacyUser{}, nil
	}

	joined := make([]string, len(ids))
	for i, id := range ids {
		joined[i] = strconv.FormatInt(id, 10)
	}

	params := url.Values{"pagesize": {strconv.Itoa(pagination.DefaultPageSize)}}
	if a.site.Team() != "" {
		params.Set("team", a.site.Team())
	}
	if a.key != "" {
		params.Set("key", a.key)
	}
	if a.accessToken != "" {
		params.Set("access_token", a.accessToken)
	}

	a.counters.legacy.Add(1)
	var resp legacyResponse
	err := a.client.GetJSON(ctx, a.site.Legacy("/users/"+strings.Join(joined, ";")), params, &resp)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]LegacyUser, len(resp.Items))
	for _, item := range resp.Items {
		out[item.UserID] = item
	}
	return out, nil
}
