package web

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/pollbox/internal/session"
)

const (
	sessionKey      = "session"
	loggerKey       = "logger"
	requestIDHeader = "X-Request-ID"
	csrfField       = "csrf_token"
	csrfHeader      = "X-CSRF-Token"
)

// requestID tags the request and its log entries with an id.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set(loggerKey, logger.WithField("request_id", id))
		c.Next()
	}
}

func requestLogger(c *gin.Context) *logrus.Entry {
	if v, ok := c.Get(loggerKey); ok {
		return v.(*logrus.Entry)
	}
	return logger
}

// accessLog writes one line per request.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := requestLogger(c).WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request served")
		} else {
			entry.Info("request served")
		}
	}
}

// sessions loads the browser session before the handler and stores it after.
func (s *Server) sessions() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := s.sessionManager.Load(c.Request.Context(), c.Request)
		if sess.IsNew() {
			s.sessionManager.WriteCookie(c.Writer, sess)
		}
		c.Set(sessionKey, sess)

		c.Next()

		if err := s.sessionManager.Save(c.Request.Context(), sess); err != nil {
			requestLogger(c).WithError(err).Error("failed to save session")
		}
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

// csrf rejects unsafe requests whose token does not match the session's.
func (s *Server) csrf() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		token := c.PostForm(csrfField)
		if token == "" {
			token = c.GetHeader(csrfHeader)
		}

		expected := currentSession(c).CSRFToken
		if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			requestLogger(c).Warn("csrf token mismatch")
			s.render(c, http.StatusForbidden, "error", gin.H{"status": http.StatusForbidden, "message": "CSRF verification failed."})
			c.Abort()
			return
		}

		c.Next()
	}
}

// rateLimit throttles unsafe requests per client address.
func rateLimit(perSecond float64) gin.HandlerFunc {
	lmt := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetMethods([]string{http.MethodPost})
	lmt.SetIPLookups([]string{"RemoteAddr", "X-Forwarded-For", "X-Real-IP"})

	return func(c *gin.Context) {
		if httpErr := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpErr != nil {
			requestLogger(c).Warn("login rate limited")
			c.String(httpErr.StatusCode, httpErr.Message)
			c.Abort()
			return
		}
		c.Next()
	}
}

// loginURL sends the browser to the login page and back to next afterwards.
func loginURL(next string) string {
	return "/accounts/login/?next=" + url.QueryEscape(next)
}

// safeNext accepts only local absolute paths.
func safeNext(next string) string {
	if next == "" || next[0] != '/' || (len(next) > 1 && (next[1] == '/' || next[1] == '\\')) {
		return "/polls/"
	}
	return next
}
