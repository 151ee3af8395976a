// Package session keeps per-browser state behind an opaque cookie: the
// logged-in user, a CSRF token and one-shot flash messages.
package session

import (
	"github.com/google/uuid"

	"github.com/lvdashuaibi/pollbox/internal/model"
)

// Flash levels
const (
	LevelError   = "error"
	LevelSuccess = "success"
	LevelInfo    = "info"
)

type Flash struct {
	Level   string `msgpack:"level"`
	Message string `msgpack:"message"`
}

type Session struct {
	ID        string  `msgpack:"-"`
	UserID    int64   `msgpack:"user_id"`
	Username  string  `msgpack:"username"`
	IsStaff   bool    `msgpack:"is_staff"`
	CSRFToken string  `msgpack:"csrf_token"`
	Flashes   []Flash `msgpack:"flashes"`

	isNew     bool
	dirty     bool
	destroyed bool
	oldID     string // id replaced by Renew, deleted on save
}

func newSession() *Session {
	return &Session{ID: uuid.NewString(), isNew: true}
}

func (s *Session) IsNew() bool {
	return s.isNew
}

func (s *Session) IsAuthenticated() bool {
	return s.UserID != 0
}

// SetUser marks the session as logged in.
func (s *Session) SetUser(u *model.User) {
	s.UserID = u.ID
	s.Username = u.Username
	s.IsStaff = u.IsStaff
	s.dirty = true
}

// CSRF returns the form token, creating one on first use.
func (s *Session) CSRF() string {
	if s.CSRFToken == "" {
		s.CSRFToken = uuid.NewString()
		s.dirty = true
	}
	return s.CSRFToken
}

func (s *Session) AddFlash(level, message string) {
	s.Flashes = append(s.Flashes, Flash{Level: level, Message: message})
	s.dirty = true
}

// PopFlashes returns pending flashes and clears them.
func (s *Session) PopFlashes() []Flash {
	if len(s.Flashes) == 0 {
		return nil
	}
	flashes := s.Flashes
	s.Flashes = nil
	s.dirty = true
	return flashes
}
