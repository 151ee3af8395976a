package graph

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/lock"
	"github.com/lvdashuaibi/pollbox/internal/repository"
	"github.com/lvdashuaibi/pollbox/internal/service"
	"github.com/lvdashuaibi/pollbox/internal/testutil"
)

func newServer(t *testing.T) (*GraphQLServer, *repository.SQLRepository) {
	t.Helper()
	repo := testutil.NewRepository(t)
	polls := service.NewPollService(repo, repository.NewMemoryCache(time.Minute), lock.NewLocalLock(), nil,
		config.PollsConfig{IndexLimit: 5}, config.LockConfig{Timeout: time.Second})
	return NewGraphQLServer(polls), repo
}

func TestQuestionQuery(t *testing.T) {
	srv, repo := newServer(t)
	past := testutil.CreateQuestion(t, repo, "Past question.", -1)
	testutil.CreateChoices(t, repo, past.ID, "Yes", "No")
	future := testutil.CreateQuestion(t, repo, "Future question.", 1)

	tests := []struct {
		name string
		id   int64
		want string
	}{
		{name: "published", id: past.ID, want: `{"question":{"questionText":"Past question.","canVote":true,"choices":[{"choiceText":"Yes","votes":0},{"choiceText":"No","votes":0}]}}`},
		{name: "future", id: future.ID, want: `{"question":null}`},
		{name: "unknown", id: 999, want: `{"question":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.Exec(context.Background(),
				`query($id: ID!) { question(id: $id) { questionText canVote choices { choiceText votes } } }`,
				map[string]interface{}{"id": strconv.FormatInt(tt.id, 10)})
			require.Empty(t, resp.Errors)
			assert.JSONEq(t, tt.want, string(resp.Data))
		})
	}
}

func TestVoteMutation(t *testing.T) {
	srv, repo := newServer(t)
	q := testutil.CreateQuestion(t, repo, "Past question.", -1)
	choices := testutil.CreateChoices(t, repo, q.ID, "Yes", "No")
	u := testutil.CreateUser(t, repo, "alice")

	const mutation = `mutation($q: ID!, $c: ID!) {
		vote(questionId: $q, choiceId: $c) { previousChoiceId results { totalVotes choices { votes } } }
	}`
	vars := func(choiceID int64) map[string]interface{} {
		return map[string]interface{}{"q": strconv.FormatInt(q.ID, 10), "c": strconv.FormatInt(choiceID, 10)}
	}

	t.Run("anonymous", func(t *testing.T) {
		resp := srv.Exec(context.Background(), mutation, vars(choices[0].ID))
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "authentication required", resp.Errors[0].Message)
	})

	ctx := WithViewer(context.Background(), u.ID)

	t.Run("first vote", func(t *testing.T) {
		resp := srv.Exec(ctx, mutation, vars(choices[0].ID))
		require.Empty(t, resp.Errors)
		assert.JSONEq(t, `{"vote":{"previousChoiceId":null,"results":{"totalVotes":1,"choices":[{"votes":1},{"votes":0}]}}}`, string(resp.Data))
	})

	t.Run("changed vote", func(t *testing.T) {
		resp := srv.Exec(ctx, mutation, vars(choices[1].ID))
		require.Empty(t, resp.Errors)

		var data struct {
			Vote struct {
				PreviousChoiceID string `json:"previousChoiceId"`
				Results          struct {
					TotalVotes int `json:"totalVotes"`
				} `json:"results"`
			} `json:"vote"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &data))
		assert.Equal(t, strconv.FormatInt(choices[0].ID, 10), data.Vote.PreviousChoiceID)
		assert.Equal(t, 1, data.Vote.Results.TotalVotes)
	})

	t.Run("invalid choice", func(t *testing.T) {
		resp := srv.Exec(ctx, mutation, vars(999))
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "You didn't select a choice.", resp.Errors[0].Message)
	})
}
