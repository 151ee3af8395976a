package model

import (
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
)

func TestWasPublishedRecently(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		pubDate time.Time
		want    bool
	}{
		{name: "future question", pubDate: now.Add(30 * 24 * time.Hour), want: false},
		{name: "older than a day", pubDate: now.Add(-24*time.Hour - time.Second), want: false},
		{name: "within the last day", pubDate: now.Add(-(23*time.Hour + 59*time.Minute + 59*time.Second)), want: true},
		{name: "exactly now", pubDate: now, want: true},
		{name: "exactly one day ago", pubDate: now.Add(-24 * time.Hour), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Question{PubDate: tt.pubDate}
			assert.Equal(t, tt.want, q.WasPublishedRecently(now))
		})
	}
}

func TestIsPublished(t *testing.T) {
	now := time.Now()

	assert.False(t, (&Question{PubDate: now.Add(24 * time.Hour)}).IsPublished(now))
	assert.True(t, (&Question{PubDate: now.Add(-24 * time.Hour)}).IsPublished(now))
	assert.True(t, (&Question{PubDate: now}).IsPublished(now))
}

func TestCanVote(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		pubDate time.Time
		endDate *time.Time
		want    bool
	}{
		{
			name:    "inside the window",
			pubDate: now.Add(-time.Hour),
			endDate: pointer.ToTime(now.Add(time.Hour)),
			want:    true,
		},
		{
			name:    "not published yet",
			pubDate: now.Add(24 * time.Hour),
			want:    false,
		},
		{
			name:    "expired",
			pubDate: now.Add(-24 * time.Hour),
			endDate: pointer.ToTime(now.Add(-time.Hour)),
			want:    false,
		},
		{
			name:    "no end date",
			pubDate: now.Add(-time.Hour),
			want:    true,
		},
		{
			name:    "ends exactly now",
			pubDate: now.Add(-time.Hour),
			endDate: pointer.ToTime(now),
			want:    true,
		},
		{
			name:    "future with end date",
			pubDate: now.Add(time.Hour),
			endDate: pointer.ToTime(now.Add(2 * time.Hour)),
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Question{PubDate: tt.pubDate, EndDate: tt.endDate}
			assert.Equal(t, tt.want, q.CanVote(now))
		})
	}
}

func TestQuestionString(t *testing.T) {
	q := &Question{QuestionText: "What's up?"}
	assert.Equal(t, "What's up?", q.String())
}

func TestVoteEventLog(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := (&VoteEvent{UserID: 1, QuestionID: 2, ChoiceID: 3, VotedAt: at}).Log()
	assert.Nil(t, first.PreviousChoiceID)
	assert.Equal(t, int64(3), first.ChoiceID)
	assert.Equal(t, at, first.VotedAt)

	changed := (&VoteEvent{UserID: 1, QuestionID: 2, ChoiceID: 4, PreviousChoiceID: 3, VotedAt: at}).Log()
	if assert.NotNil(t, changed.PreviousChoiceID) {
		assert.Equal(t, int64(3), *changed.PreviousChoiceID)
	}
}

func TestNewQuestionResults(t *testing.T) {
	q := &Question{ID: 1, QuestionText: "q"}
	r := NewQuestionResults(q, []*Choice{{ID: 1, Votes: 2}, {ID: 2, Votes: 3}})
	assert.Equal(t, 5, r.TotalVotes)
	assert.Equal(t, int64(1), r.Question.ID)
}
