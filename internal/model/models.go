package model

import (
	"time"
)

const (
	// MaxTextLength bounds question and choice text.
	MaxTextLength = 200
	// MaxUsernameLength bounds account names.
	MaxUsernameLength = 150
	// RecentWindow is how far back a publication still counts as recent.
	RecentWindow = 24 * time.Hour
)

// Question is a poll prompt with a publishing window
type Question struct {
	ID           int64      `db:"id" json:"id"`
	QuestionText string     `db:"question_text" json:"questionText"`
	PubDate      time.Time  `db:"pub_date" json:"pubDate"`
	EndDate      *time.Time `db:"end_date" json:"endDate,omitempty"`
}

// WasPublishedRecently reports whether the question went public within the last day.
func (q *Question) WasPublishedRecently(now time.Time) bool {
	return !q.PubDate.Before(now.Add(-RecentWindow)) && !q.PubDate.After(now)
}

// IsPublished reports whether the publication date has arrived.
func (q *Question) IsPublished(now time.Time) bool {
	return !q.PubDate.After(now)
}

// CanVote reports whether now lies inside the voting window.
// Without an end date a published question stays open.
func (q *Question) CanVote(now time.Time) bool {
	if q.EndDate == nil {
		return q.IsPublished(now)
	}
	return !now.Before(q.PubDate) && !now.After(*q.EndDate)
}

func (q *Question) String() string {
	return q.QuestionText
}

// Choice is a selectable answer of a question. Votes is derived from the vote rows.
type Choice struct {
	ID         int64  `db:"id" json:"id"`
	QuestionID int64  `db:"question_id" json:"questionId"`
	ChoiceText string `db:"choice_text" json:"choiceText"`
	Votes      int    `db:"votes" json:"votes"`
}

func (c *Choice) String() string {
	return c.ChoiceText
}

// Vote is a user's single selection for a question
type Vote struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"userId"`
	QuestionID int64     `db:"question_id" json:"questionId"`
	ChoiceID   int64     `db:"choice_id" json:"choiceId"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// User is an account allowed to vote
type User struct {
	ID           int64      `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	IsStaff      bool       `db:"is_staff" json:"isStaff"`
	DateJoined   time.Time  `db:"date_joined" json:"dateJoined"`
	LastLogin    *time.Time `db:"last_login" json:"lastLogin,omitempty"`
}

// VoteLog is the audit trail of cast votes
type VoteLog struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"userId"`
	QuestionID       int64     `db:"question_id" json:"questionId"`
	ChoiceID         int64     `db:"choice_id" json:"choiceId"`
	PreviousChoiceID *int64    `db:"previous_choice_id" json:"previousChoiceId,omitempty"`
	VotedAt          time.Time `db:"voted_at" json:"votedAt"`
}

// VoteEvent is published to Kafka after a vote is stored
type VoteEvent struct {
	UserID     int64 `json:"userId"`
	QuestionID int64 `json:"questionId"`
	ChoiceID   int64 `json:"choiceId"`
	// 0 when this is the user's first vote on the question
	PreviousChoiceID int64     `json:"previousChoiceId"`
	VotedAt          time.Time `json:"votedAt"`
}

// Log converts the event into its audit row.
func (e *VoteEvent) Log() *VoteLog {
	l := &VoteLog{
		UserID:     e.UserID,
		QuestionID: e.QuestionID,
		ChoiceID:   e.ChoiceID,
		VotedAt:    e.VotedAt,
	}
	if e.PreviousChoiceID != 0 {
		prev := e.PreviousChoiceID
		l.PreviousChoiceID = &prev
	}
	return l
}

// QuestionResults is a question together with its tallied choices
type QuestionResults struct {
	Question   Question  `json:"question"`
	Choices    []*Choice `json:"choices"`
	TotalVotes int       `json:"totalVotes"`
}

// NewQuestionResults tallies the total over choices.
func NewQuestionResults(q *Question, choices []*Choice) *QuestionResults {
	r := &QuestionResults{Question: *q, Choices: choices}
	for _, c := range choices {
		r.TotalVotes += c.Votes
	}
	return r
}
