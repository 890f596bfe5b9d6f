// Package api provides typed wrappers over the Teams API endpoints used
// by the harvester, plus the legacy endpoint lookups they fall back to.
package api

import "time"

// UserSummary is the abbreviated owner reference embedded in content
// responses and returned by the subject-matter-expert endpoint.
type UserSummary struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"accountId"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatarUrl"`
	Reputation int    `json:"reputation"`
}

// User is a full user record from the primary API. The primary API omits
// raw account timestamps; those come from LegacyUser.
type User struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"accountId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	JobTitle   string `json:"jobTitle"`
	Department string `json:"department"`
	AvatarURL  string `json:"avatarUrl"`
	WebURL     string `json:"webUrl"`
	Reputation int    `json:"reputation"`
	Role       string `json:"role"`
}

// Tag is a tag reference as embedded in questions and articles.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Question is a question record from the primary API.
type Question struct {
	ID                int64        `json:"id"`
	Title             string       `json:"title"`
	Tags              []Tag        `json:"tags"`
	Owner             *UserSummary `json:"owner"`
	CreationDate      time.Time    `json:"creationDate"`
	LastActivityDate  time.Time    `json:"lastActivityDate"`
	Score             int          `json:"score"`
	ViewCount         int          `json:"viewCount"`
	AnswerCount       int          `json:"answerCount"`
	IsAnswered        bool         `json:"isAnswered"`
	HasAcceptedAnswer bool         `json:"hasAcceptedAnswer"`
	IsClosed          bool         `json:"isClosed"`
	IsObsolete        bool         `json:"isObsolete"`
	WebURL            string       `json:"webUrl"`
}

// Answer is an answer record from the primary API.
type Answer struct {
	ID           int64        `json:"id"`
	QuestionID   int64        `json:"questionId"`
	Owner        *UserSummary `json:"owner"`
	CreationDate time.Time    `json:"creationDate"`
	Score        int          `json:"score"`
	IsAccepted   bool         `json:"isAccepted"`
	WebURL       string       `json:"webUrl"`
}

// Article is an article record from the primary API.
type Article struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Type         string       `json:"type"`
	Tags         []Tag        `json:"tags"`
	Owner        *UserSummary `json:"owner"`
	CreationDate time.Time    `json:"creationDate"`
	Score        int          `json:"score"`
	ViewCount    int          `json:"viewCount"`
	WebURL       string       `json:"webUrl"`
}

// subjectMatterExperts is the wire shape of the tag expert endpoint.
type subjectMatterExperts struct {
	Users []UserSummary `json:"users"`
}

// LegacyUser is a user record from the legacy endpoint, which still
// exposes raw epoch timestamps the primary API dropped.
type LegacyUser struct {
	UserID         int64  `json:"user_id"`
	AccountID      int64  `json:"account_id"`
	DisplayName    string `json:"display_name"`
	Reputation     int    `json:"reputation"`
	CreationDate   int64  `json:"creation_date"`
	LastAccessDate int64  `json:"last_access_date"`
	Link           string `json:"link"`
}

// CreatedAt returns the account creation time.
func (u LegacyUser) CreatedAt() time.Time {
	return time.Unix(u.CreationDate, 0).UTC()
}

// LastAccessAt returns the last recorded access time.
func (u LegacyUser) LastAccessAt() time.Time {
	return time.Unix(u.LastAccessDate, 0).UTC()
}

// legacyResponse is the wire envelope of legacy endpoint responses.
type legacyResponse struct {
	Items          []LegacyUser `json:"items"`
	HasMore        bool         `json:"has_more"`
	QuotaRemaining int          `json:"quota_remaining"`
}
