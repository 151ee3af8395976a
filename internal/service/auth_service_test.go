package service

import (
	"context"
	"strings"
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lvdashuaibi/pollbox/internal/testutil"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthService(testutil.NewRepository(t)).WithCost(bcrypt.MinCost)

	u, err := auth.Register(ctx, "test", "tttttttt", false)
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.NotEqual(t, "tttttttt", u.PasswordHash)

	_, err = auth.Register(ctx, "test", "another-password", false)
	assert.True(t, errors.Is(err, ErrDuplicate))

	got, err := auth.Authenticate(ctx, "test", "tttttttt")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotNil(t, got.LastLogin)

	stored, err := auth.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)

	_, err = auth.Authenticate(ctx, "test", "wrong-password")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = auth.Authenticate(ctx, "nobody", "tttttttt")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	auth := NewAuthService(testutil.NewRepository(t)).WithCost(bcrypt.MinCost)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "empty username", username: "", password: "long-enough"},
		{name: "username with spaces", username: "a b", password: "long-enough"},
		{name: "username too long", username: strings.Repeat("u", 151), password: "long-enough"},
		{name: "short password", username: "user", password: "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Register(ctx, tt.username, tt.password, false)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}

	_, err := auth.Register(ctx, "first.last+tag@example-1_x", "long-enough", true)
	assert.NoError(t, err)
}
