package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/pollbox/internal/model"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	_, ok, err := c.GetResults(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	results := model.NewQuestionResults(&model.Question{ID: 1, QuestionText: "q"}, []*model.Choice{{ID: 10, Votes: 2}})
	require.NoError(t, c.SetResults(ctx, results))

	got, ok, err := c.GetResults(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.TotalVotes)

	got.Choices[0].Votes = 99
	again, _, _ := c.GetResults(ctx, 1)
	assert.Equal(t, 2, again.Choices[0].Votes)

	require.NoError(t, c.DeleteResults(ctx, 1))
	_, ok, _ = c.GetResults(ctx, 1)
	assert.False(t, ok)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(20 * time.Millisecond)

	require.NoError(t, c.SetResults(ctx, &model.QuestionResults{Question: model.Question{ID: 3}}))
	time.Sleep(40 * time.Millisecond)

	_, ok, err := c.GetResults(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}
