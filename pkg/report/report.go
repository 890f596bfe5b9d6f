// Package report cross-references a frozen harvest dataset into
// denormalized user-centric or question-centric records. It performs no
// I/O: the same dataset always yields the same records.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/stackharvest/harvester/pkg/api"
)

// Dataset is the frozen output of a harvest run. The join engine never
// mutates it, so one dataset can feed both record shapes.
type Dataset struct {
	Users     []api.User
	Questions []api.Question
	Answers   []api.Answer
	Articles  []api.Article

	// TagExperts maps tag id to the designated expert user ids.
	TagExperts map[int64][]int64

	// TagNames maps tag id to display name, collected from content tags.
	TagNames map[int64]string

	// UserDetails carries the legacy records with raw account timestamps.
	UserDetails map[int64]api.LegacyUser

	// Now anchors longevity calculations so output is reproducible.
	Now time.Time
}

// UserRecord is one denormalized row of the user-centric report.
type UserRecord struct {
	UserID     int64  `json:"userId"`
	AccountID  int64  `json:"accountId"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	JobTitle   string `json:"jobTitle,omitempty"`
	Department string `json:"department,omitempty"`
	Role       string `json:"role,omitempty"`
	Reputation int    `json:"reputation"`
	WebURL     string `json:"webUrl,omitempty"`

	AccountLongevityDays int `json:"accountLongevityDays"`
	TenureDays           int `json:"tenureDays"`

	IsSubjectMatterExpert bool     `json:"isSubjectMatterExpert"`
	SMETags               []string `json:"smeTags"`

	QuestionsAsked               int `json:"questionsAsked"`
	QuestionsUnanswered          int `json:"questionsUnanswered"`
	QuestionsWithAcceptedAnswers int `json:"questionsWithAcceptedAnswers"`
	QuestionViews                int `json:"questionViews"`
	AnswersGiven                 int `json:"answersGiven"`
	AnswersAccepted              int `json:"answersAccepted"`
	AnswerScore                  int `json:"answerScore"`
	ArticleCount                 int `json:"articleCount"`
	ArticleViews                 int `json:"articleViews"`
	ArticleScore                 int `json:"articleScore"`

	// The grouped child collections behind the aggregates, sorted by id.
	Questions []EmbeddedQuestion `json:"questions"`
	Answers   []EmbeddedAnswer   `json:"answers"`
	Articles  []EmbeddedArticle  `json:"articles"`

	HasParticipated bool `json:"hasParticipated"`
}

// EmbeddedQuestion is a question embedded in a user record, carrying its
// accepted answer and the full answer list.
type EmbeddedQuestion struct {
	QuestionID   int64     `json:"questionId"`
	Title        string    `json:"title"`
	CreationDate time.Time `json:"creationDate"`
	Score        int       `json:"score"`
	ViewCount    int       `json:"viewCount"`
	AnswerCount  int       `json:"answerCount"`
	IsAnswered   bool      `json:"isAnswered"`
	Status       string    `json:"status"`
	Tags         []string  `json:"tags"`
	WebURL       string    `json:"webUrl,omitempty"`

	AcceptedAnswer *EmbeddedAnswer  `json:"acceptedAnswer,omitempty"`
	Answers        []EmbeddedAnswer `json:"answers"`
}

// EmbeddedAnswer is an answer embedded in a user record or a question's
// answer list, with the owner denormalized in.
type EmbeddedAnswer struct {
	AnswerID     int64     `json:"answerId"`
	QuestionID   int64     `json:"questionId"`
	CreationDate time.Time `json:"creationDate"`
	Score        int       `json:"score"`
	IsAccepted   bool      `json:"isAccepted"`
	OwnerID      int64     `json:"ownerId,omitempty"`
	OwnerName    string    `json:"ownerName,omitempty"`
	OwnerIsSME   bool      `json:"ownerIsSme,omitempty"`
	WebURL       string    `json:"webUrl,omitempty"`
}

// EmbeddedArticle is an article embedded in a user record.
type EmbeddedArticle struct {
	ArticleID    int64     `json:"articleId"`
	Title        string    `json:"title"`
	Type         string    `json:"type,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Score        int       `json:"score"`
	ViewCount    int       `json:"viewCount"`
	Tags         []string  `json:"tags"`
	WebURL       string    `json:"webUrl,omitempty"`
}

// QuestionRecord is one denormalized row of the question-centric report.
type QuestionRecord struct {
	QuestionID   int64     `json:"questionId"`
	Title        string    `json:"title"`
	CreationDate time.Time `json:"creationDate"`
	Score        int       `json:"score"`
	ViewCount    int       `json:"viewCount"`
	AnswerCount  int       `json:"answerCount"`
	IsAnswered   bool      `json:"isAnswered"`
	Status       string    `json:"status"`
	Tags         []string  `json:"tags"`
	WebURL       string    `json:"webUrl,omitempty"`

	AskerID         int64  `json:"askerId"`
	AskerName       string `json:"askerName"`
	AskerIsSME      bool   `json:"askerIsSme"`
	AskerTenureDays int    `json:"askerTenureDays"`

	AcceptedAnswerID         int64  `json:"acceptedAnswerId"`
	AcceptedAnswerScore      int    `json:"acceptedAnswerScore"`
	AcceptedAnswerOwnerID    int64  `json:"acceptedAnswerOwnerId"`
	AcceptedAnswerOwnerName  string `json:"acceptedAnswerOwnerName"`
	AcceptedAnswerOwnerIsSME bool   `json:"acceptedAnswerOwnerIsSme"`
}

// indexes holds the owner-keyed views built once per engine run.
type indexes struct {
	questionsByOwner map[int64][]*api.Question
	answersByOwner   map[int64][]*api.Answer
	articlesByOwner  map[int64][]*api.Article

	// answersByQuestion groups every answer under its question,
	// anonymous ones included.
	answersByQuestion map[int64][]*api.Answer

	// acceptedByQuestion records the accepted answer per question. The
	// first accepted answer encountered wins when the data disagrees.
	acceptedByQuestion map[int64]*api.Answer

	// smeTags maps user id to the sorted names of tags they are a
	// designated expert for.
	smeTags map[int64][]string

	// participants holds every user who owns a question, answer, or
	// article in the dataset.
	participants map[int64]bool
}

func buildIndexes(ds *Dataset) *indexes {
	idx := &indexes{
		questionsByOwner:   make(map[int64][]*api.Question),
		answersByOwner:     make(map[int64][]*api.Answer),
		articlesByOwner:    make(map[int64][]*api.Article),
		answersByQuestion:  make(map[int64][]*api.Answer),
		acceptedByQuestion: make(map[int64]*api.Answer),
		smeTags:            make(map[int64][]string),
		participants:       make(map[int64]bool),
	}

	for i := range ds.Questions {
		q := &ds.Questions[i]
		if q.Owner == nil {
			continue
		}
		idx.questionsByOwner[q.Owner.ID] = append(idx.questionsByOwner[q.Owner.ID], q)
		idx.participants[q.Owner.ID] = true
	}

	for i := range ds.Answers {
		ans := &ds.Answers[i]
		idx.answersByQuestion[ans.QuestionID] = append(idx.answersByQuestion[ans.QuestionID], ans)
		if ans.IsAccepted {
			if _, exists := idx.acceptedByQuestion[ans.QuestionID]; !exists {
				idx.acceptedByQuestion[ans.QuestionID] = ans
			}
		}
		if ans.Owner == nil {
			continue
		}
		idx.answersByOwner[ans.Owner.ID] = append(idx.answersByOwner[ans.Owner.ID], ans)
		idx.participants[ans.Owner.ID] = true
	}

	for i := range ds.Articles {
		art := &ds.Articles[i]
		if art.Owner == nil {
			continue
		}
		idx.articlesByOwner[art.Owner.ID] = append(idx.articlesByOwner[art.Owner.ID], art)
		idx.participants[art.Owner.ID] = true
	}

	for tagID, userIDs := range ds.TagExperts {
		name, ok := ds.TagNames[tagID]
		if !ok || name == "" {
			name = fmt.Sprintf("tag_%d", tagID)
		}
		for _, userID := range userIDs {
			idx.smeTags[userID] = append(idx.smeTags[userID], name)
		}
	}
	for userID := range idx.smeTags {
		sort.Strings(idx.smeTags[userID])
	}

	return idx
}

// sortedTagNames flattens a tag list to sorted display names.
func sortedTagNames(tags []api.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	sort.Strings(names)
	return names
}

func (idx *indexes) embedAnswer(ans *api.Answer) EmbeddedAnswer {
	out := EmbeddedAnswer{
		AnswerID:     ans.ID,
		QuestionID:   ans.QuestionID,
		CreationDate: ans.CreationDate,
		Score:        ans.Score,
		IsAccepted:   ans.IsAccepted,
		WebURL:       ans.WebURL,
	}
	if ans.Owner != nil {
		out.OwnerID = ans.Owner.ID
		out.OwnerName = ans.Owner.Name
		out.OwnerIsSME = len(idx.smeTags[ans.Owner.ID]) > 0
	}
	return out
}

func (idx *indexes) embedQuestion(q *api.Question) EmbeddedQuestion {
	out := EmbeddedQuestion{
		QuestionID:   q.ID,
		Title:        q.Title,
		CreationDate: q.CreationDate,
		Score:        q.Score,
		ViewCount:    q.ViewCount,
		AnswerCount:  q.AnswerCount,
		IsAnswered:   q.IsAnswered,
		Status:       questionStatus(q),
		Tags:         sortedTagNames(q.Tags),
		WebURL:       q.WebURL,
		Answers:      []EmbeddedAnswer{},
	}

	for _, ans := range idx.answersByQuestion[q.ID] {
		out.Answers = append(out.Answers, idx.embedAnswer(ans))
	}
	sort.Slice(out.Answers, func(i, j int) bool { return out.Answers[i].AnswerID < out.Answers[j].AnswerID })

	if acc, ok := idx.acceptedByQuestion[q.ID]; ok {
		embedded := idx.embedAnswer(acc)
		out.AcceptedAnswer = &embedded
	}
	return out
}

func embedArticle(art *api.Article) EmbeddedArticle {
	return EmbeddedArticle{
		ArticleID:    art.ID,
		Title:        art.Title,
		Type:         art.Type,
		CreationDate: art.CreationDate,
		Score:        art.Score,
		ViewCount:    art.ViewCount,
		Tags:         sortedTagNames(art.Tags),
		WebURL:       art.WebURL,
	}
}

// tenureDays derives account tenure from the legacy timestamps.
func tenureDays(details map[int64]api.LegacyUser, userID int64) int {
	lu, ok := details[userID]
	if !ok || lu.CreationDate == 0 || lu.LastAccessDate < lu.CreationDate {
		return 0
	}
	return int((lu.LastAccessDate - lu.CreationDate) / 86400)
}

// longevityDays derives account age relative to the dataset anchor.
func longevityDays(details map[int64]api.LegacyUser, userID int64, now time.Time) int {
	lu, ok := details[userID]
	if !ok || lu.CreationDate == 0 {
		return 0
	}
	age := now.Sub(lu.CreatedAt())
	if age < 0 {
		return 0
	}
	return int(age / (24 * time.Hour))
}

// questionStatus maps the moderation flags to the report status value.
func questionStatus(q *api.Question) string {
	switch {
	case q.IsClosed:
		return "Closed"
	case q.IsObsolete:
		return "Obsolete"
	default:
		return "N/A"
	}
}

// UserRecords joins the dataset into user-centric records, one per user,
// sorted by user id. Running it twice over the same dataset yields
// identical output.
func UserRecords(ds *Dataset) []UserRecord {
	idx := buildIndexes(ds)

	records := make([]UserRecord, 0, len(ds.Users))
	for i := range ds.Users {
		u := &ds.Users[i]

		rec := UserRecord{
			UserID:     u.ID,
			AccountID:  u.AccountID,
			Name:       u.Name,
			Email:      u.Email,
			JobTitle:   u.JobTitle,
			Department: u.Department,
			Role:       u.Role,
			Reputation: u.Reputation,
			WebURL:     u.WebURL,

			AccountLongevityDays: longevityDays(ds.UserDetails, u.ID, ds.Now),
			TenureDays:           tenureDays(ds.UserDetails, u.ID),

			SMETags:         idx.smeTags[u.ID],
			HasParticipated: idx.participants[u.ID],

			Questions: []EmbeddedQuestion{},
			Answers:   []EmbeddedAnswer{},
			Articles:  []EmbeddedArticle{},
		}
		if rec.SMETags == nil {
			rec.SMETags = []string{}
		}
		rec.IsSubjectMatterExpert = len(rec.SMETags) > 0

		for _, q := range idx.questionsByOwner[u.ID] {
			rec.QuestionsAsked++
			rec.QuestionViews += q.ViewCount
			if !q.IsAnswered {
				rec.QuestionsUnanswered++
			}
			if _, ok := idx.acceptedByQuestion[q.ID]; ok {
				rec.QuestionsWithAcceptedAnswers++
			}
			rec.Questions = append(rec.Questions, idx.embedQuestion(q))
		}
		sort.Slice(rec.Questions, func(i, j int) bool { return rec.Questions[i].QuestionID < rec.Questions[j].QuestionID })

		for _, ans := range idx.answersByOwner[u.ID] {
			rec.AnswersGiven++
			rec.AnswerScore += ans.Score
			if ans.IsAccepted {
				rec.AnswersAccepted++
			}
			rec.Answers = append(rec.Answers, idx.embedAnswer(ans))
		}
		sort.Slice(rec.Answers, func(i, j int) bool { return rec.Answers[i].AnswerID < rec.Answers[j].AnswerID })

		for _, art := range idx.articlesByOwner[u.ID] {
			rec.ArticleCount++
			rec.ArticleViews += art.ViewCount
			rec.ArticleScore += art.Score
			rec.Articles = append(rec.Articles, embedArticle(art))
		}
		sort.Slice(rec.Articles, func(i, j int) bool { return rec.Articles[i].ArticleID < rec.Articles[j].ArticleID })

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records
}

// ParticipantsOnly filters user records down to users with at least one
// question, answer, or article.
func ParticipantsOnly(records []UserRecord) []UserRecord {
	out := make([]UserRecord, 0, len(records))
	for _, rec := range records {
		if rec.HasParticipated {
			out = append(out, rec)
		}
	}
	return out
}

// QuestionRecords joins the dataset into question-centric records, one
// per question, sorted by question id.
func QuestionRecords(ds *Dataset) []QuestionRecord {
	idx := buildIndexes(ds)

	records := make([]QuestionRecord, 0, len(ds.Questions))
	for i := range ds.Questions {
		q := &ds.Questions[i]

		rec := QuestionRecord{
			QuestionID:   q.ID,
			Title:        q.Title,
			CreationDate: q.CreationDate,
			Score:        q.Score,
			ViewCount:    q.ViewCount,
			AnswerCount:  q.AnswerCount,
			IsAnswered:   q.IsAnswered,
			Status:       questionStatus(q),
			Tags:         sortedTagNames(q.Tags),
			WebURL:       q.WebURL,
		}

		if q.Owner != nil {
			rec.AskerID = q.Owner.ID
			rec.AskerName = q.Owner.Name
			rec.AskerIsSME = len(idx.smeTags[q.Owner.ID]) > 0
			rec.AskerTenureDays = tenureDays(ds.UserDetails, q.Owner.ID)
		}

		if ans, ok := idx.acceptedByQuestion[q.ID]; ok {
			rec.AcceptedAnswerID = ans.ID
			rec.AcceptedAnswerScore = ans.Score
			if ans.Owner != nil {
				rec.AcceptedAnswerOwnerID = ans.Owner.ID
				rec.AcceptedAnswerOwnerName = ans.Owner.Name
				rec.AcceptedAnswerOwnerIsSME = len(idx.smeTags[ans.Owner.ID]) > 0
			}
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].QuestionID < records[j].QuestionID })
	return records
}
