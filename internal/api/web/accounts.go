package web

import (
	"net/http"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/pollbox/internal/model"
	"github.com/lvdashuaibi/pollbox/internal/service"
	"github.com/lvdashuaibi/pollbox/internal/session"
)

const (
	msgBadLogin      = "Please enter a correct username and password."
	msgUsernameTaken = "A user with that username already exists."
	msgPasswordsDiff = "The two password fields didn't match."
)

func (s *Server) loginForm(c *gin.Context) {
	s.render(c, http.StatusOK, "login", gin.H{"next": safeNext(c.Query("next"))})
}

func (s *Server) login(c *gin.Context) {
	username := c.PostForm("username")
	next := safeNext(c.PostForm("next"))

	user, err := s.auth.Authenticate(c.Request.Context(), username, c.PostForm("password"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			s.render(c, http.StatusOK, "login", gin.H{"next": next, "username": username, "error_message": msgBadLogin})
			return
		}
		s.serverError(c, err)
		return
	}

	s.startSession(c, user)
	redirect(c, next)
}

// startSession logs user in under a fresh session id.
func (s *Server) startSession(c *gin.Context, user *model.User) {
	sess := currentSession(c)
	s.sessionManager.Renew(c.Writer, sess)
	sess.SetUser(user)
	requestLogger(c).WithField("user", user.ID).Info("user logged in")
}

func (s *Server) logout(c *gin.Context) {
	if err := s.sessionManager.Destroy(c.Request.Context(), c.Writer, currentSession(c)); err != nil {
		requestLogger(c).WithError(err).Warn("failed to destroy session")
	}
	redirect(c, "/polls/")
}

func (s *Server) signupForm(c *gin.Context) {
	s.render(c, http.StatusOK, "signup", nil)
}

func (s *Server) signup(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password1")

	fail := func(msg string) {
		s.render(c, http.StatusOK, "signup", gin.H{"username": username, "error_message": msg})
	}

	if password != c.PostForm("password2") {
		fail(msgPasswordsDiff)
		return
	}

	user, err := s.auth.Register(c.Request.Context(), username, password, false)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			fail(verr.Message)
		case errors.Is(err, service.ErrDuplicate):
			fail(msgUsernameTaken)
		default:
			s.serverError(c, err)
		}
		return
	}

	s.startSession(c, user)
	currentSession(c).AddFlash(session.LevelSuccess, "Welcome, "+user.Username+"!")
	redirect(c, "/polls/")
}
