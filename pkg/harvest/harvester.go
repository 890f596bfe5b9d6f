// Package harvest orchestrates a full export run: users, their content,
// the cross-reference lookups, and the frozen dataset handed to the
// report engine.
package harvest

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stackharvest/harvester/pkg/api"
	"github.com/stackharvest/harvester/pkg/batch"
	"github.com/stackharvest/harvester/pkg/cache"
	"github.com/stackharvest/harvester/pkg/report"
)

// Mode selects the harvest shape.
type Mode string

const (
	// ModeUser harvests per-user content for the user-centric report.
	ModeUser Mode = "user"

	// ModeQuestion harvests the full question collection for the
	// question-centric report.
	ModeQuestion Mode = "question"
)

// CollectionStats compares what a collection should hold against what
// the run actually gathered.
type CollectionStats struct {
	Expected  int `json:"expected"`
	Harvested int `json:"harvested"`
}

// Dropped returns the number of silently lost records.
func (s CollectionStats) Dropped() int {
	if s.Expected > s.Harvested {
		return s.Expected - s.Harvested
	}
	return 0
}

// Summary describes one harvest run. A degraded run still completes;
// the summary is where the degradation shows.
type Summary struct {
	Users       CollectionStats `json:"users"`
	Questions   CollectionStats `json:"questions"`
	Answers     CollectionStats `json:"answers"`
	Articles    CollectionStats `json:"articles"`
	TagExperts  CollectionStats `json:"tagExperts"`
	UserDetails CollectionStats `json:"userDetails"`

	PrimaryCalls int64         `json:"primaryCalls"`
	LegacyCalls  int64         `json:"legacyCalls"`
	Duration     time.Duration `json:"duration"`
}

// Config holds the harvester configuration.
type Config struct {
	// API is the endpoint wrapper (REQUIRED).
	API *api.API

	// Counters supplies the call counts for the summary. Use the same
	// instance wired into the API.
	Counters *api.CallCounters

	// Cache is the optional Redis lookup cache.
	Cache *cache.Manager

	// Mode selects the harvest shape. Default ModeUser.
	Mode Mode

	// From/To bound the user creation-date filter. Both zero harvests
	// every user. ModeUser only.
	From, To time.Time

	// BurstLimit feeds the batch concurrency ceiling.
	BurstLimit int

	// BatchSize, MaxConcurrency, and InterBatchPause tune the
	// orchestrator; zero keeps the defaults.
	BatchSize       int
	MaxConcurrency  int
	InterBatchPause time.Duration

	// OnProgress reports per-stage progress. Optional.
	OnProgress func(stage string, done, total int)
}

// Harvester runs one or more harvests against a site.
type Harvester struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a harvester.
func New(cfg Config) (*Harvester, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("api is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeUser
	}
	if cfg.Mode != ModeUser && cfg.Mode != ModeQuestion {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.Counters == nil {
		cfg.Counters = &api.CallCounters{}
	}

	return &Harvester{
		cfg:    cfg,
		logger: log.With().Str("component", "harvester").Logger(),
	}, nil
}

// Run executes one harvest and returns the frozen dataset and the run
// summary. Cancellation abandons the remaining fetches and returns the
// partial dataset alongside the context error.
func (h *Harvester) Run(ctx context.Context) (*report.Dataset, Summary, error) {
	start := time.Now()
	hc := newHarvestContext(h.cfg.API, h.cfg.Cache, h.logger)

	var (
		ds      *report.Dataset
		summary Summary
		err     error
	)
	switch h.cfg.Mode {
	case ModeQuestion:
		ds, summary, err = h.runQuestionMode(ctx, hc)
	default:
		ds, summary, err = h.runUserMode(ctx, hc)
	}

	summary.PrimaryCalls = h.cfg.Counters.Primary()
	summary.LegacyCalls = h.cfg.Counters.Legacy()
	summary.Duration = time.Since(start)

	h.logger.Info().
		Str("mode", string(h.cfg.Mode)).
		Int("users", summary.Users.Harvested).
		Int("questions", summary.Questions.Harvested).
		Int("answers", summary.Answers.Harvested).
		Int("articles", summary.Articles.Harvested).
		Int64("primary_calls", summary.PrimaryCalls).
		Int64("legacy_calls", summary.LegacyCalls).
		Dur("duration", summary.Duration).
		Msg("Harvest finished")

	return ds, summary, err
}

func (h *Harvester) batchConfig(stage string) batch.Config {
	return batch.Config{
		BatchSize:       h.cfg.BatchSize,
		MaxConcurrency:  h.cfg.MaxConcurrency,
		BurstLimit:      h.cfg.BurstLimit,
		InterBatchPause: h.cfg.InterBatchPause,
		Logger:          h.logger.With().Str("stage", stage).Logger(),
		OnProgress: func(done, total int) {
			if h.cfg.OnProgress != nil {
				h.cfg.OnProgress(stage, done, total)
			}
		},
	}
}

func (h *Harvester) runUserMode(ctx context.Context, hc *HarvestContext) (*report.Dataset, Summary, error) {
	var summary Summary

	var users []api.User
	if h.cfg.From.IsZero() && h.cfg.To.IsZero() {
		users = h.cfg.API.Users(ctx)
	} else {
		users = h.cfg.API.UsersCreatedBetween(ctx, h.cfg.From, h.cfg.To)
	}
	summary.Users = CollectionStats{Expected: len(users), Harvested: len(users)}
	if h.cfg.OnProgress != nil {
		h.cfg.OnProgress("users", len(users), len(users))
	}

	userIDs := make([]int64, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
	}

	questionsByUser, err := batch.ForEach(ctx, h.batchConfig("questions"), userIDs,
		func(ctx context.Context, userID int64) ([]api.Question, error) {
			return h.cfg.API.QuestionsByAuthor(ctx, userID), nil
		})
	if err != nil {
		return h.freeze(ctx, hc, users, nil, nil, nil, &summary), summary, err
	}

	articlesByUser, err := batch.ForEach(ctx, h.batchConfig("articles"), userIDs,
		func(ctx context.Context, userID int64) ([]api.Article, error) {
			return h.cfg.API.ArticlesByAuthor(ctx, userID), nil
		})
	if err != nil {
		return h.freeze(ctx, hc, users, flatten(userIDs, questionsByUser), nil, nil, &summary), summary, err
	}

	questions := flatten(userIDs, questionsByUser)
	articles := flatten(userIDs, articlesByUser)
	summary.Questions = CollectionStats{Expected: len(questions), Harvested: len(questions)}
	summary.Articles = CollectionStats{Expected: len(articles), Harvested: len(articles)}

	answers, expectedAnswers, err := h.harvestAnswers(ctx, questions)
	summary.Answers = CollectionStats{Expected: expectedAnswers, Harvested: len(answers)}
	if err != nil {
		return h.freeze(ctx, hc, users, questions, answers, articles, &summary), summary, err
	}

	ds := h.freeze(ctx, hc, users, questions, answers, articles, &summary)
	return ds, summary, ctx.Err()
}

func (h *Harvester) runQuestionMode(ctx context.Context, hc *HarvestContext) (*report.Dataset, Summary, error) {
	var summary Summary

	questions := h.cfg.API.Questions(ctx)
	summary.Questions = CollectionStats{Expected: len(questions), Harvested: len(questions)}
	if h.cfg.OnProgress != nil {
		h.cfg.OnProgress("questions", len(questions), len(questions))
	}

	answers, expectedAnswers, err := h.harvestAnswers(ctx, questions)
	summary.Answers = CollectionStats{Expected: expectedAnswers, Harvested: len(answers)}
	if err != nil {
		return h.freeze(ctx, hc, nil, questions, answers, nil, &summary), summary, err
	}

	ds := h.freeze(ctx, hc, nil, questions, answers, nil, &summary)
	return ds, summary, ctx.Err()
}

// harvestAnswers fetches the answers of every question through the
// orchestrator. Expected is the sum of the questions' answerCount
// fields, so the summary exposes pages lost to degraded fetches.
func (h *Harvester) harvestAnswers(ctx context.Context, questions []api.Question) ([]api.Answer, int, error) {
	expected := 0
	questionIDs := make([]int64, 0, len(questions))
	for _, q := range questions {
		questionIDs = append(questionIDs, q.ID)
		expected += q.AnswerCount
	}

	answersByQuestion, err := batch.ForEach(ctx, h.batchConfig("answers"), questionIDs,
		func(ctx context.Context, questionID int64) ([]api.Answer, error) {
			return h.cfg.API.AnswersForQuestion(ctx, questionID), nil
		})

	return flatten(questionIDs, answersByQuestion), expected, err
}

// freeze resolves the cross-reference lookups and assembles the dataset.
func (h *Harvester) freeze(ctx context.Context, hc *HarvestContext, users []api.User,
	questions []api.Question, answers []api.Answer, articles []api.Article,
	summary *Summary) *report.Dataset {

	tagNames := make(map[int64]string)
	for _, q := range questions {
		for _, tag := range q.Tags {
			tagNames[tag.ID] = tag.Name
		}
	}
	for _, art := range articles {
		for _, tag := range art.Tags {
			tagNames[tag.ID] = tag.Name
		}
	}

	tagIDs := make([]int64, 0, len(tagNames))
	for tagID := range tagNames {
		tagIDs = append(tagIDs, tagID)
	}
	sort.Slice(tagIDs, func(i, j int) bool { return tagIDs[i] < tagIDs[j] })

	var resolvedTags atomic.Int64
	expertsByTag, _ := batch.ForEach(ctx, h.batchConfig("tag-experts"), tagIDs,
		func(ctx context.Context, tagID int64) ([]int64, error) {
			ids, err := hc.TagExperts(ctx, tagID)
			if err != nil {
				return nil, err
			}
			resolvedTags.Add(1)
			return ids, nil
		})
	summary.TagExperts = CollectionStats{Expected: len(tagIDs), Harvested: int(resolvedTags.Load())}

	detailIDs := detailTargets(users, questions, answers)
	details := hc.UserDetails(ctx, detailIDs)
	summary.UserDetails = CollectionStats{Expected: len(detailIDs), Harvested: len(details)}

	return &report.Dataset{
		Users:       users,
		Questions:   questions,
		Answers:     answers,
		Articles:    articles,
		TagExperts:  expertsByTag,
		TagNames:    tagNames,
		UserDetails: details,
		Now:         time.Now().UTC(),
	}
}

// detailTargets collects the user ids whose legacy details the reports
// need: harvested users plus askers and answer owners.
func detailTargets(users []api.User, questions []api.Question, answers []api.Answer) []int64 {
	seen := make(map[int64]bool)
	for _, u := range users {
		seen[u.ID] = true
	}
	for _, q := range questions {
		if q.Owner != nil {
			seen[q.Owner.ID] = true
		}
	}
	for _, ans := range answers {
		if ans.Owner != nil {
			seen[ans.Owner.ID] = true
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// flatten concatenates per-key results in key order.
func flatten[T any](keys []int64, byKey map[int64][]T) []T {
	var out []T
	for _, key := range keys {
		out = append(out, byKey[key]...)
	}
	return out
}
