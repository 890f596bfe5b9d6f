package harvest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackharvest/harvester/internal/testutil"
	"github.com/stackharvest/harvester/pkg/api"
	"github.com/stackharvest/harvester/pkg/client"
	"github.com/stackharvest/harvester/pkg/ratelimit"
	"github.com/stackharvest/harvester/pkg/report"
)

// newHarvestStack wires a full pipeline against the mock site with fast
// retry timings for everything except rate limits, which keep honoring
// Retry-After.
func newHarvestStack(t *testing.T, site *testutil.MockSite, cfg Config) *Harvester {
	t.Helper()

	g, err := ratelimit.NewGovernor(ratelimit.Config{
		BurstRequests:        1000,
		BurstWindow:          time.Millisecond,
		BucketMax:            1000000,
		BucketRefillRate:     1000000,
		BucketRefillInterval: time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGovernor() error = %v", err)
	}

	c, err := client.New(client.Config{
		Token:    "test-token",
		Governor: g,
		Policies: client.Policies{
			client.ClassRateLimit: {MaxRetries: client.Unbounded, BaseDelay: 5 * time.Second, Multiplier: 1.5, CapDelay: 300 * time.Second},
			client.ClassServer:    {MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 1.0, CapDelay: time.Millisecond},
			client.ClassNetwork:   {MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 1.0, CapDelay: time.Millisecond},
			client.ClassClient:    {MaxRetries: 0},
		},
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	siteCfg, err := api.NewSite(site.URL(), "")
	if err != nil {
		t.Fatalf("NewSite() error = %v", err)
	}

	counters := &api.CallCounters{}
	a, err := api.New(api.Config{Client: c, Site: siteCfg, Counters: counters})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}

	cfg.API = a
	cfg.Counters = counters
	if cfg.InterBatchPause == 0 {
		cfg.InterBatchPause = time.Millisecond
	}

	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func seedSmallSite(site *testutil.MockSite) {
	site.SetUsers([]api.User{
		{ID: 1, Name: "asker"},
		{ID: 2, Name: "answerer"},
	})
	site.SetQuestions([]api.Question{
		{
			ID:          10,
			Title:       "q",
			Owner:       &api.UserSummary{ID: 1, Name: "asker"},
			Tags:        []api.Tag{{ID: 5, Name: "go"}},
			AnswerCount: 1,
			IsAnswered:  true,
		},
	})
	site.SetAnswers(10, []api.Answer{
		{ID: 100, QuestionID: 10, Owner: &api.UserSummary{ID: 2, Name: "answerer"}, IsAccepted: true},
	})
	site.SetArticles([]api.Article{
		{ID: 1000, Owner: &api.UserSummary{ID: 2, Name: "answerer"}, Tags: []api.Tag{{ID: 5, Name: "go"}}},
	})
	site.SetTagExperts(5, []api.UserSummary{{ID: 2, Name: "answerer"}})
	site.SetLegacyUser(api.LegacyUser{UserID: 1, CreationDate: 1600000000, LastAccessDate: 1700000000})
	site.SetLegacyUser(api.LegacyUser{UserID: 2, CreationDate: 1500000000, LastAccessDate: 1700000000})
}

func TestRun_UserMode(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	seedSmallSite(site)

	h := newHarvestStack(t, site, Config{Mode: ModeUser})

	ds, summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ds.Users) != 2 {
		t.Errorf("len(Users) = %d, want 2", len(ds.Users))
	}
	if len(ds.Questions) != 1 {
		t.Errorf("len(Questions) = %d, want 1", len(ds.Questions))
	}
	if len(ds.Answers) != 1 {
		t.Errorf("len(Answers) = %d, want 1", len(ds.Answers))
	}
	if len(ds.Articles) != 1 {
		t.Errorf("len(Articles) = %d, want 1", len(ds.Articles))
	}
	if got := ds.TagExperts[5]; len(got) != 1 || got[0] != 2 {
		t.Errorf("TagExperts[5] = %v, want [2]", got)
	}
	if ds.TagNames[5] != "go" {
		t.Errorf("TagNames[5] = %q, want go", ds.TagNames[5])
	}
	if len(ds.UserDetails) != 2 {
		t.Errorf("len(UserDetails) = %d, want 2", len(ds.UserDetails))
	}

	if summary.Answers.Dropped() != 0 {
		t.Errorf("Answers.Dropped() = %d, want 0", summary.Answers.Dropped())
	}
	if summary.PrimaryCalls == 0 || summary.LegacyCalls == 0 {
		t.Errorf("call counts = %d/%d, want both nonzero", summary.PrimaryCalls, summary.LegacyCalls)
	}
}

func TestRun_QuestionMode(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	seedSmallSite(site)

	h := newHarvestStack(t, site, Config{Mode: ModeQuestion})

	ds, summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ds.Questions) != 1 || len(ds.Answers) != 1 {
		t.Errorf("questions/answers = %d/%d, want 1/1", len(ds.Questions), len(ds.Answers))
	}
	// Askers and answer owners still get legacy details in question mode.
	if len(ds.UserDetails) != 2 {
		t.Errorf("len(UserDetails) = %d, want 2", len(ds.UserDetails))
	}
	if summary.Questions.Harvested != 1 {
		t.Errorf("Questions.Harvested = %d, want 1", summary.Questions.Harvested)
	}
}

func TestRun_ProgressReported(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	seedSmallSite(site)

	stages := make(map[string]bool)
	h := newHarvestStack(t, site, Config{
		Mode: ModeUser,
		OnProgress: func(stage string, done, total int) {
			stages[stage] = true
		},
	})

	if _, _, err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, stage := range []string{"users", "questions", "articles", "answers", "tag-experts"} {
		if !stages[stage] {
			t.Errorf("no progress reported for stage %q", stage)
		}
	}
}

func TestHarvestContext_TagExpertsMemoized(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetTagExperts(5, []api.UserSummary{{ID: 2}})

	h := newHarvestStack(t, site, Config{})
	hc := newHarvestContext(h.cfg.API, nil, zerolog.Nop())

	ctx := context.Background()
	if _, err := hc.TagExperts(ctx, 5); err != nil {
		t.Fatalf("TagExperts() error = %v", err)
	}
	before := site.RequestCount()

	for i := 0; i < 5; i++ {
		ids, err := hc.TagExperts(ctx, 5)
		if err != nil {
			t.Fatalf("TagExperts() error = %v", err)
		}
		if len(ids) != 1 || ids[0] != 2 {
			t.Errorf("TagExperts() = %v, want [2]", ids)
		}
	}

	if got := site.RequestCount(); got != before {
		t.Errorf("requests = %d, want %d (memo must absorb repeats)", got, before)
	}
}

func TestHarvestContext_UserDetailsMemoized(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetLegacyUser(api.LegacyUser{UserID: 1, CreationDate: 1600000000})

	h := newHarvestStack(t, site, Config{})
	hc := newHarvestContext(h.cfg.API, nil, zerolog.Nop())

	ctx := context.Background()
	first := hc.UserDetails(ctx, []int64{1})
	if len(first) != 1 {
		t.Fatalf("len(details) = %d, want 1", len(first))
	}
	before := site.RequestCount()

	second := hc.UserDetails(ctx, []int64{1})
	if len(second) != 1 {
		t.Fatalf("len(details) = %d, want 1 on repeat", len(second))
	}
	if got := site.RequestCount(); got != before {
		t.Errorf("requests = %d, want %d (memo must absorb repeats)", got, before)
	}
}

func TestRun_FailedTagExpertLookupCountedAsDropped(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	seedSmallSite(site)
	site.FailWith(testutil.ExpertsPath(5), http.StatusInternalServerError)

	h := newHarvestStack(t, site, Config{Mode: ModeUser})

	ds, summary, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ds.TagExperts[5]) != 0 {
		t.Errorf("TagExperts[5] = %v, want empty for failed lookup", ds.TagExperts[5])
	}
	if summary.TagExperts.Harvested != 0 {
		t.Errorf("TagExperts.Harvested = %d, want 0", summary.TagExperts.Harvested)
	}
	if summary.TagExperts.Dropped() != 1 {
		t.Errorf("TagExperts.Dropped() = %d, want 1 (lost lookup must stay visible)", summary.TagExperts.Dropped())
	}
}

func TestRun_CancelledContextReturnsPartial(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	seedSmallSite(site)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarvestStack(t, site, Config{Mode: ModeUser})

	ds, _, err := h.Run(ctx)
	if err == nil {
		t.Error("Run() error = nil, want context error")
	}
	if ds == nil {
		t.Error("Run() dataset = nil, want partial dataset")
	}
}

// TestRun_RateLimitMidRun is the end-to-end degradation scenario: a big
// question collection, one 429 with Retry-After on an answers call. The
// run must slow down by the advertised delay and still lose nothing.
func TestRun_RateLimitMidRun(t *testing.T) {
	if testing.Short() {
		t.Skip("2s rate-limit wait")
	}

	site := testutil.NewMockSite()
	defer site.Close()

	questions := make([]api.Question, 150)
	for i := range questions {
		id := int64(i + 1)
		questions[i] = api.Question{
			ID:          id,
			Owner:       &api.UserSummary{ID: 1, Name: "asker"},
			AnswerCount: 1,
		}
		site.SetAnswers(id, []api.Answer{
			{ID: id * 1000, QuestionID: id, Owner: &api.UserSummary{ID: 2, Name: "answerer"}, IsAccepted: true},
		})
	}
	site.SetQuestions(questions)
	site.SetLegacyUser(api.LegacyUser{UserID: 1, CreationDate: 1600000000})
	site.SetLegacyUser(api.LegacyUser{UserID: 2, CreationDate: 1600000000})

	site.FailOnceWith429(testutil.AnswersPath(42), "2")

	h := newHarvestStack(t, site, Config{Mode: ModeQuestion})

	start := time.Now()
	ds, summary, err := h.Run(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(ds.Questions) != 150 {
		t.Errorf("len(Questions) = %d, want 150", len(ds.Questions))
	}
	if len(ds.Answers) != 150 {
		t.Errorf("len(Answers) = %d, want 150 (the rate-limited call must recover)", len(ds.Answers))
	}
	if summary.Answers.Dropped() != 0 {
		t.Errorf("Answers.Dropped() = %d, want 0", summary.Answers.Dropped())
	}
	if elapsed < 2*time.Second {
		t.Errorf("run took %v, want >= 2s (Retry-After honored)", elapsed)
	}

	records := report.QuestionRecords(ds)
	if len(records) != 150 {
		t.Fatalf("len(records) = %d, want 150", len(records))
	}
	for _, rec := range records {
		if rec.AcceptedAnswerID != rec.QuestionID*1000 {
			t.Errorf("question %d accepted answer = %d, want %d",
				rec.QuestionID, rec.AcceptedAnswerID, rec.QuestionID*1000)
		}
	}
}
