// Package testutil provides throwaway databases and fixtures for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/model"
	"github.com/lvdashuaibi/pollbox/internal/repository"
)

// DatabaseConfig points at a fresh sqlite file inside the test's temp dir.
func DatabaseConfig(t testing.TB) config.DatabaseConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pollbox.db")
	return config.DatabaseConfig{
		Driver: "sqlite",
		Master: "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite",
	}
}

// NewRepository returns a migrated repository closed at test cleanup.
func NewRepository(t testing.TB) *repository.SQLRepository {
	t.Helper()

	repo, err := repository.NewSQLRepository(DatabaseConfig(t))
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

// CreateQuestion publishes a question the given number of days from now.
// Negative days publish in the past, positive ones in the future.
func CreateQuestion(t testing.TB, repo *repository.SQLRepository, text string, days int) *model.Question {
	t.Helper()

	q := &model.Question{
		QuestionText: text,
		PubDate:      time.Now().Add(time.Duration(days) * 24 * time.Hour),
	}
	require.NoError(t, repo.CreateQuestion(context.Background(), q))
	return q
}

// CreateChoices adds one choice per text.
func CreateChoices(t testing.TB, repo *repository.SQLRepository, questionID int64, texts ...string) []*model.Choice {
	t.Helper()

	choices := make([]*model.Choice, 0, len(texts))
	for _, text := range texts {
		c := &model.Choice{QuestionID: questionID, ChoiceText: text}
		require.NoError(t, repo.CreateChoice(context.Background(), c))
		choices = append(choices, c)
	}
	return choices
}

// CreateUser stores a user whose password hash is a placeholder.
func CreateUser(t testing.TB, repo *repository.SQLRepository, username string) *model.User {
	t.Helper()

	u := &model.User{
		Username:     username,
		PasswordHash: "!",
		DateJoined:   time.Now(),
	}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}
