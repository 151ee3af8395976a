package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/logging"
)

var logger = logging.For("session")

// Manager ties sessions to the request cookie.
type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	secure     bool
}

func NewManager(store Store, cfg config.SessionConfig) *Manager {
	name := cfg.CookieName
	if name == "" {
		name = "pollbox_session"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}

	return &Manager{store: store, cookieName: name, ttl: ttl, secure: cfg.Secure}
}

// Load returns the request's session, or a new one when the cookie is
// missing, unknown or the store fails.
func (m *Manager) Load(ctx context.Context, r *http.Request) *Session {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return newSession()
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return newSession()
	}

	s, ok, err := m.store.Load(ctx, cookie.Value)
	if err != nil {
		logger.WithError(err).Warn("session store unavailable, starting a new session")
		return newSession()
	}
	if !ok {
		return newSession()
	}
	return s
}

// Save persists changed sessions and drops ids replaced by Renew.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if s.oldID != "" {
		if err := m.store.Delete(ctx, s.oldID); err != nil {
			logger.WithError(err).Warn("failed to delete renewed session")
		}
		s.oldID = ""
	}

	if s.destroyed || !s.dirty {
		return nil
	}

	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return err
	}
	s.dirty = false
	s.isNew = false
	return nil
}

// Renew gives the session a fresh id. Call it when privileges change.
func (m *Manager) Renew(w http.ResponseWriter, s *Session) {
	if !s.isNew {
		s.oldID = s.ID
	}
	s.ID = uuid.NewString()
	s.CSRFToken = ""
	s.dirty = true
	m.WriteCookie(w, s)
}

// Destroy forgets the session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	s.destroyed = true
	m.setCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return m.store.Delete(ctx, s.ID)
}

// WriteCookie sets the session cookie on w.
func (m *Manager) WriteCookie(w http.ResponseWriter, s *Session) {
	m.setCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setCookie replaces any cookie of the same name already queued on w.
func (m *Manager) setCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	prefix := m.cookieName + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	http.SetCookie(w, c)
}
