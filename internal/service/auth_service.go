package service

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"emperror.dev/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/lvdashuaibi/pollbox/internal/model"
	"github.com/lvdashuaibi/pollbox/internal/repository"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

type AuthService struct {
	repo *repository.SQLRepository
	cost int
}

func NewAuthService(repo *repository.SQLRepository) *AuthService {
	return &AuthService{repo: repo, cost: bcrypt.DefaultCost}
}

// WithCost sets the bcrypt cost of new password hashes.
func (s *AuthService) WithCost(cost int) *AuthService {
	s.cost = cost
	return s
}

func validateCredentials(username, password string) error {
	if username == "" {
		return invalid("username is required")
	}
	if utf8.RuneCountInString(username) > model.MaxUsernameLength {
		return invalid("username is too long")
	}
	if !usernamePattern.MatchString(username) {
		return invalid("username may only contain letters, digits and @/./+/-/_")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return invalid("password must contain at least 8 characters")
	}
	return nil
}

// Register creates an account. A taken username yields ErrDuplicate.
func (s *AuthService) Register(ctx context.Context, username, password string, isStaff bool) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, errors.WrapIf(err, "failed to hash password")
	}

	u := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		IsStaff:      isStaff,
		DateJoined:   time.Now(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	logger.WithField("user", u.ID).Info("user registered")
	return u, nil
}

// Authenticate checks a password and stamps the login time.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.WithStack(ErrInvalidCredentials)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errors.WithStack(ErrInvalidCredentials)
	}

	now := time.Now()
	if err := s.repo.UpdateLastLogin(ctx, u.ID, now); err != nil {
		logger.WithError(err).WithField("user", u.ID).Warn("failed to record login time")
	} else {
		u.LastLogin = &now
	}

	return u, nil
}

func (s *AuthService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}
