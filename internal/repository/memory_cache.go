package repository

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lvdashuaibi/pollbox/internal/model"
)

// MemoryCache keeps results in process. Used when redis is disabled.
type MemoryCache struct {
	c *cache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: cache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) GetResults(_ context.Context, questionID int64) (*model.QuestionResults, bool, error) {
	v, ok := m.c.Get(resultsKey(questionID))
	if !ok {
		return nil, false, nil
	}

	// hand out a copy so callers cannot mutate the cached tally
	cached := v.(*model.QuestionResults)
	out := &model.QuestionResults{
		Question:   cached.Question,
		TotalVotes: cached.TotalVotes,
		Choices:    make([]*model.Choice, len(cached.Choices)),
	}
	for i, c := range cached.Choices {
		cp := *c
		out.Choices[i] = &cp
	}
	return out, true, nil
}

func (m *MemoryCache) SetResults(_ context.Context, results *model.QuestionResults) error {
	m.c.SetDefault(resultsKey(results.Question.ID), results)
	return nil
}

func (m *MemoryCache) DeleteResults(_ context.Context, questionID int64) error {
	m.c.Delete(resultsKey(questionID))
	return nil
}
