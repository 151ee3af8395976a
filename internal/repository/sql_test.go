package repository_test

import (
	"context"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/pollbox/internal/model"
	"github.com/lvdashuaibi/pollbox/internal/repository"
	"github.com/lvdashuaibi/pollbox/internal/testutil"
)

func TestMigrateIsIdempotent(t *testing.T) {
	repo := testutil.NewRepository(t)
	assert.NoError(t, repo.Migrate(context.Background()))
}

func TestQuestionCRUD(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewRepository(t)

	pub := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := &model.Question{QuestionText: "Favourite colour?", PubDate: pub, EndDate: pointer.ToTime(pub.Add(48 * time.Hour))}
	require.NoError(t, repo.CreateQuestion(ctx, q))
	require.NotZero(t, q.ID)

	got, err := repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Favourite colour?", got.QuestionText)
	assert.True(t, pub.Equal(got.PubDate))
	require.NotNil(t, got.EndDate)
	assert.True(t, pub.Add(48*time.Hour).Equal(*got.EndDate))

	got.QuestionText = "Favourite color?"
	got.EndDate = nil
	require.NoError(t, repo.UpdateQuestion(ctx, got))

	got, err = repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Favourite color?", got.QuestionText)
	assert.Nil(t, got.EndDate)

	require.NoError(t, repo.DeleteQuestion(ctx, q.ID))
	_, err = repo.GetQuestion(ctx, q.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	assert.True(t, errors.Is(repo.DeleteQuestion(ctx, q.ID), repository.ErrNotFound))
	assert.True(t, errors.Is(repo.UpdateQuestion(ctx, q), repository.ErrNotFound))
}

func TestListPublishedQuestions(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewRepository(t)

	testutil.CreateQuestion(t, repo, "Future question.", 30)
	for i, days := range []int{-1, -2, -3, -4, -5, -6} {
		testutil.CreateQuestion(t, repo, []string{"q1", "q2", "q3", "q4", "q5", "q6"}[i], days)
	}

	questions, err := repo.ListPublishedQuestions(ctx, time.Now(), 5)
	require.NoError(t, err)
	require.Len(t, questions, 5)

	texts := make([]string, 0, len(questions))
	for _, q := range questions {
		texts = append(texts, q.QuestionText)
	}
	assert.Equal(t, []string{"q1", "q2", "q3", "q4", "q5"}, texts)

	all, err := repo.ListQuestions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.Equal(t, "Future question.", all[0].QuestionText)
}

func TestChoices(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewRepository(t)

	q := testutil.CreateQuestion(t, repo, "Question", -1)
	other := testutil.CreateQuestion(t, repo, "Other", -1)
	choices := testutil.CreateChoices(t, repo, q.ID, "A", "B")

	got, err := repo.GetChoice(ctx, q.ID, choices[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.ChoiceText)

	_, err = repo.GetChoice(ctx, other.ID, choices[1].ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	require.NoError(t, repo.UpdateChoiceText(ctx, choices[0].ID, "A!"))

	list, err := repo.ListChoices(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A!", list[0].ChoiceText)
	assert.Equal(t, 0, list[0].Votes)

	require.NoError(t, repo.DeleteChoice(ctx, choices[0].ID))
	list, err = repo.ListChoices(ctx, q.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveVoteOverwrites(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewRepository(t)

	q := testutil.CreateQuestion(t, repo, "Question", -1)
	choices := testutil.CreateChoices(t, repo, q.ID, "A", "B")
	alice := testutil.CreateUser(t, repo, "alice")
	bob := testutil.CreateUser(t, repo, "bob")

	_, err := repo.GetUserVote(ctx, alice.ID, q.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	prev, err := repo.SaveVote(ctx, alice.ID, q.ID, choices[0].ID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, prev)

	prev, err = repo.SaveVote(ctx, bob.ID, q.ID, choices[0].ID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, prev)

	prev, err = repo.SaveVote(ctx, alice.ID, q.ID, choices[1].ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, choices[0].ID, prev)

	vote, err := repo.GetUserVote(ctx, alice.ID, q.ID)
	require.NoError(t, err)
	assert.Equal(t, choices[1].ID, vote.ChoiceID)

	n, err := repo.CountVotes(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := repo.ListChoices(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].Votes)
	assert.Equal(t, 1, list[1].Votes)
}

func TestDeleteQuestionCascades(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewRepository(t)

	q := testutil.CreateQuestion(t, repo, "Question", -1)
	choices := testutil.CreateChoices(t, repo, q.ID, "A")
	u := testutil.CreateUser(t, repo, "alice")

	_, err := repo.SaveVote(ctx, u.ID, q.ID, choices[0].ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.InsertVoteLog(ctx, &model.VoteLog{UserID: u.ID, QuestionID: q.ID, ChoiceID: choices[0].ID, VotedAt: time.Now()}))

	require.NoError(t, repo.DeleteQuestion(ctx, q.ID))

	n, err := repo.CountVotes(ctx, q.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	logs, err := repo.ListVoteLogs(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestVoteLogs(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewRepository(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertVoteLog(ctx, &model.VoteLog{UserID: 1, QuestionID: 7, ChoiceID: 3, VotedAt: at}))
	require.NoError(t, repo.InsertVoteLog(ctx, &model.VoteLog{UserID: 1, QuestionID: 7, ChoiceID: 4, PreviousChoiceID: pointer.ToInt64(3), VotedAt: at}))

	logs, err := repo.ListVoteLogs(ctx, 7)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Nil(t, logs[0].PreviousChoiceID)
	require.NotNil(t, logs[1].PreviousChoiceID)
	assert.Equal(t, int64(3), *logs[1].PreviousChoiceID)
	assert.True(t, at.Equal(logs[1].VotedAt))
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewRepository(t)

	u := testutil.CreateUser(t, repo, "alice")

	err := repo.CreateUser(ctx, &model.User{Username: "alice", PasswordHash: "!", DateJoined: time.Now()})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))

	got, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Nil(t, got.LastLogin)
	assert.False(t, got.IsStaff)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastLogin(ctx, u.ID, at))

	got, err = repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, at.Equal(*got.LastLogin))

	_, err = repo.GetUserByUsername(ctx, "nobody")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}
