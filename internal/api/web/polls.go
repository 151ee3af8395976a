package web

import (
	"net/http"
	"strconv"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/pollbox/internal/service"
	"github.com/lvdashuaibi/pollbox/internal/session"
)

const (
	msgNotPublished = "This poll not publish yet."
	msgEnded        = "This poll is ended."
	msgNoChoice     = "You didn't select a choice."
)

func questionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) index(c *gin.Context) {
	questions, err := s.polls.LatestQuestions(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}

	s.render(c, http.StatusOK, "index", gin.H{"latest_question_list": questions})
}

// closedPoll turns a voting-window error into a flash and a trip back to the index.
// It reports whether err was handled.
func (s *Server) closedPoll(c *gin.Context, err error) bool {
	var msg string
	switch {
	case errors.Is(err, service.ErrNotPublished):
		msg = msgNotPublished
	case errors.Is(err, service.ErrPollEnded):
		msg = msgEnded
	default:
		return false
	}

	currentSession(c).AddFlash(session.LevelError, msg)
	redirect(c, "/polls/")
	return true
}

func (s *Server) detail(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		s.notFound(c)
		return
	}

	sess := currentSession(c)
	if !sess.IsAuthenticated() {
		redirect(c, loginURL(c.Request.URL.Path))
		return
	}

	d, err := s.polls.QuestionDetail(c.Request.Context(), id, sess.UserID)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotFound):
		s.notFound(c)
		return
	case s.closedPoll(c, err):
		return
	default:
		s.serverError(c, err)
		return
	}

	s.render(c, http.StatusOK, "detail", gin.H{
		"question": d.Question,
		"choices":  d.Choices,
		"check":    d.UserChoice,
		"check_id": d.UserChoiceID,
	})
}

func (s *Server) results(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		s.notFound(c)
		return
	}

	results, err := s.polls.Results(c.Request.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNotFound):
		s.notFound(c)
		return
	case s.closedPoll(c, err):
		return
	default:
		s.serverError(c, err)
		return
	}

	s.render(c, http.StatusOK, "results", gin.H{"results": results})
}

// vote accepts GET too; without a posted choice both methods re-render the ballot.
func (s *Server) vote(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		s.notFound(c)
		return
	}

	ctx := c.Request.Context()
	question, choices, err := s.polls.Question(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			s.notFound(c)
			return
		}
		s.serverError(c, err)
		return
	}

	// a closed poll never shows its ballot, whatever was posted
	now := s.polls.Now()
	switch {
	case !question.IsPublished(now):
		s.closedPoll(c, errors.WithStack(service.ErrNotPublished))
		return
	case !question.CanVote(now):
		s.closedPoll(c, errors.WithStack(service.ErrPollEnded))
		return
	}

	noChoice := func() {
		s.render(c, http.StatusOK, "detail", gin.H{
			"question":      question,
			"choices":       choices,
			"check_id":      int64(0),
			"error_message": msgNoChoice,
		})
	}

	choiceID, err := strconv.ParseInt(c.PostForm("choice"), 10, 64)
	if err != nil {
		noChoice()
		return
	}
	if _, err := s.polls.Choice(ctx, id, choiceID); err != nil {
		if errors.Is(err, service.ErrNoChoice) {
			noChoice()
			return
		}
		s.serverError(c, err)
		return
	}

	sess := currentSession(c)
	if !sess.IsAuthenticated() {
		redirect(c, loginURL("/polls/"+c.Param("id")+"/"))
		return
	}

	_, err = s.polls.Vote(ctx, sess.UserID, id, choiceID)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrNoChoice):
		noChoice()
		return
	case s.closedPoll(c, err):
		return
	default:
		s.serverError(c, err)
		return
	}

	redirect(c, "/polls/"+strconv.FormatInt(id, 10)+"/results/")
}
