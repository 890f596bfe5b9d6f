// Package testutil provides a mock Teams site server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/stackharvest/harvester/pkg/api"
)

var (
	userPathRe    = regexp.MustCompile(`^/api/v3/users/(\d+)$`)
	answersPathRe = regexp.MustCompile(`^/api/v3/questions/(\d+)/answers$`)
	expertsPathRe = regexp.MustCompile(`^/api/v3/tags/(\d+)/subject-matter-experts$`)
	legacyPathRe  = regexp.MustCompile(`^/api/2\.3/users/([0-9;]+)$`)
)

// MockSite is an in-memory Teams site behind an httptest server. It
// serves the paginated primary endpoints and the legacy lookup from the
// fixture collections, with optional fault injection.
type MockSite struct {
	Server *httptest.Server

	mu          sync.Mutex
	users       []api.User
	questions   []api.Question
	answers     map[int64][]api.Answer
	articles    []api.Article
	experts     map[int64][]api.UserSummary
	legacyUsers map[int64]api.LegacyUser

	// oneShot429 maps a path to a Retry-After value; the first request to
	// that path is answered with 429 and the entry consumed.
	oneShot429 map[string]string

	// failStatus maps a path to a status code answered on every request.
	failStatus map[string]int

	requestCount int
}

// NewMockSite starts an empty mock site. Callers seed it with the Set
// methods and must Close it when done.
func NewMockSite() *MockSite {
	m := &MockSite{
		answers:     make(map[int64][]api.Answer),
		experts:     make(map[int64][]api.UserSummary),
		legacyUsers: make(map[int64]api.LegacyUser),
		oneShot429:  make(map[string]string),
		failStatus:  make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the server.
func (m *MockSite) Close() { m.Server.Close() }

// URL returns the site base URL.
func (m *MockSite) URL() string { return m.Server.URL }

// SetUsers replaces the user collection.
func (m *MockSite) SetUsers(users []api.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = users
}

// SetQuestions replaces the question collection.
func (m *MockSite) SetQuestions(questions []api.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = questions
}

// SetAnswers replaces the answers for one question.
func (m *MockSite) SetAnswers(questionID int64, answers []api.Answer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[questionID] = answers
}

// SetArticles replaces the article collection.
func (m *MockSite) SetArticles(articles []api.Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles = articles
}

// SetTagExperts replaces the expert list for one tag.
func (m *MockSite) SetTagExperts(tagID int64, experts []api.UserSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experts[tagID] = experts
}

// SetLegacyUser seeds one legacy user record.
func (m *MockSite) SetLegacyUser(user api.LegacyUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacyUsers[user.UserID] = user
}

// FailOnceWith429 makes the next request to path answer 429 with the
// given Retry-After value.
func (m *MockSite) FailOnceWith429(path, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oneShot429[path] = retryAfter
}

// FailWith makes every request to path answer with the given status.
func (m *MockSite) FailWith(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus[path] = status
}

// RequestCount returns the number of requests served.
func (m *MockSite) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

func (m *MockSite) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	if retryAfter, ok := m.oneShot429[r.URL.Path]; ok {
		delete(m.oneShot429, r.URL.Path)
		m.mu.Unlock()
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if status, ok := m.failStatus[r.URL.Path]; ok {
		m.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	m.mu.Unlock()

	switch {
	case r.URL.Path == "/api/v3/users":
		m.servePaged(w, r, m.userItems(r))
	case r.URL.Path == "/api/v3/questions":
		m.servePaged(w, r, m.questionItems(r))
	case r.URL.Path == "/api/v3/articles":
		m.servePaged(w, r, m.articleItems(r))
	case userPathRe.MatchString(r.URL.Path):
		m.serveUser(w, r)
	case answersPathRe.MatchString(r.URL.Path):
		id, _ := strconv.ParseInt(answersPathRe.FindStringSubmatch(r.URL.Path)[1], 10, 64)
		m.mu.Lock()
		items := toAny(m.answers[id])
		m.mu.Unlock()
		m.servePaged(w, r, items)
	case expertsPathRe.MatchString(r.URL.Path):
		id, _ := strconv.ParseInt(expertsPathRe.FindStringSubmatch(r.URL.Path)[1], 10, 64)
		m.mu.Lock()
		experts, ok := m.experts[id]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"users": experts})
	case legacyPathRe.MatchString(r.URL.Path):
		m.serveLegacy(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func toAny[T any](items []T) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func (m *MockSite) userItems(r *http.Request) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return toAny(m.users)
}

func (m *MockSite) questionItems(r *http.Request) []any {
	m.mu.Lock()
	defer m.mu.Unlock()

	authorFilter := r.URL.Query().Get("authorId")
	if authorFilter == "" {
		return toAny(m.questions)
	}
	authorID, _ := strconv.ParseInt(authorFilter, 10, 64)

	var out []any
	for _, q := range m.questions {
		if q.Owner != nil && q.Owner.ID == authorID {
			out = append(out, q)
		}
	}
	return out
}

func (m *MockSite) articleItems(r *http.Request) []any {
	m.mu.Lock()
	defer m.mu.Unlock()

	authorFilter := r.URL.Query().Get("authorId")
	if authorFilter == "" {
		return toAny(m.articles)
	}
	authorID, _ := strconv.ParseInt(authorFilter, 10, 64)

	var out []any
	for _, art := range m.articles {
		if art.Owner != nil && art.Owner.ID == authorID {
			out = append(out, art)
		}
	}
	return out
}

// servePaged answers one page of a collection per the request's page and
// pageSize parameters.
func (m *MockSite) servePaged(w http.ResponseWriter, r *http.Request, items []any) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = 30
	}

	totalPages := (len(items) + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	json.NewEncoder(w).Encode(map[string]any{
		"totalCount": len(items),
		"pageSize":   pageSize,
		"page":       page,
		"totalPages": totalPages,
		"items":      items[start:end],
	})
}

func (m *MockSite) serveUser(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(userPathRe.FindStringSubmatch(r.URL.Path)[1], 10, 64)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			json.NewEncoder(w).Encode(u)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (m *MockSite) serveLegacy(w http.ResponseWriter, r *http.Request) {
	rawIDs := legacyPathRe.FindStringSubmatch(r.URL.Path)[1]

	m.mu.Lock()
	defer m.mu.Unlock()

	var items []api.LegacyUser
	for _, raw := range strings.Split(rawIDs, ";") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if lu, ok := m.legacyUsers[id]; ok {
			items = append(items, lu)
		}
	}

	json.NewEncoder(w).Encode(map[string]any{
		"items":           items,
		"has_more":        false,
		"quota_remaining": 9999,
	})
}

// ExpertsPath returns the primary API path of a tag's expert endpoint,
// for fault injection.
func ExpertsPath(tagID int64) string {
	return fmt.Sprintf("/api/v3/tags/%d/subject-matter-experts", tagID)
}

// AnswersPath returns the primary API path of a question's answers
// endpoint, for fault injection.
func AnswersPath(questionID int64) string {
	return fmt.Sprintf("/api/v3/questions/%d/answers", questionID)
}
