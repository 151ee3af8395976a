package service

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"emperror.dev/errors"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/lock"
	"github.com/lvdashuaibi/pollbox/internal/logging"
	"github.com/lvdashuaibi/pollbox/internal/metrics"
	"github.com/lvdashuaibi/pollbox/internal/model"
	"github.com/lvdashuaibi/pollbox/internal/repository"
)

const (
	ErrNotFound  = repository.ErrNotFound
	ErrDuplicate = repository.ErrDuplicate

	ErrNotPublished       = errors.Sentinel("poll is not published yet")
	ErrPollEnded          = errors.Sentinel("poll is ended")
	ErrNoChoice           = errors.Sentinel("no choice selected")
	ErrInvalidCredentials = errors.Sentinel("invalid username or password")
	ErrValidation         = errors.Sentinel("invalid input")
)

var logger = logging.For("service")

// ValidationError carries a message fit to show the user. It matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(msg string) error {
	return errors.WithStack(&ValidationError{Message: msg})
}

// ResultsCache holds tallied results between votes.
type ResultsCache interface {
	GetResults(ctx context.Context, questionID int64) (*model.QuestionResults, bool, error)
	SetResults(ctx context.Context, results *model.QuestionResults) error
	DeleteResults(ctx context.Context, questionID int64) error
}

// EventPublisher ships stored votes to the audit consumer.
type EventPublisher interface {
	SendVoteEvent(ctx context.Context, event *model.VoteEvent) error
}

type PollService struct {
	repo      *repository.SQLRepository
	cache     ResultsCache
	locker    lock.Lock
	publisher EventPublisher // nil writes the audit log inline

	indexLimit   int
	lockTimeout  time.Duration
	lockAttempts int
	now          func() time.Time

	versions *resultsVersions
}

// resultsVersions counts cache invalidations per question. A tally read
// before an invalidation must not be stored after it.
type resultsVersions struct {
	mu   sync.Mutex
	byID map[int64]uint64
}

func (v *resultsVersions) current(questionID int64) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.byID[questionID]
}

func (v *resultsVersions) bump(questionID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byID[questionID]++
}

func NewPollService(
	repo *repository.SQLRepository,
	cache ResultsCache,
	locker lock.Lock,
	publisher EventPublisher,
	pollsCfg config.PollsConfig,
	lockCfg config.LockConfig,
) *PollService {
	limit := pollsCfg.IndexLimit
	if limit <= 0 {
		limit = 5
	}
	timeout := lockCfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &PollService{
		repo:         repo,
		cache:        cache,
		locker:       locker,
		publisher:    publisher,
		indexLimit:   limit,
		lockTimeout:  timeout,
		lockAttempts: 50,
		now:          time.Now,
		versions:     &resultsVersions{byID: make(map[int64]uint64)},
	}
}

// WithClock replaces the time source.
func (s *PollService) WithClock(now func() time.Time) *PollService {
	s.now = now
	return s
}

// Now returns the service's notion of the current time.
func (s *PollService) Now() time.Time {
	return s.now()
}

// LatestQuestions returns the most recently published questions, newest first.
// Questions scheduled for the future are never included.
func (s *PollService) LatestQuestions(ctx context.Context) ([]*model.Question, error) {
	return s.repo.ListPublishedQuestions(ctx, s.now(), s.indexLimit)
}

// Question returns a question with its choices without checking the voting window.
func (s *PollService) Question(ctx context.Context, id int64) (*model.Question, []*model.Choice, error) {
	q, err := s.repo.GetQuestion(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	choices, err := s.repo.ListChoices(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return q, choices, nil
}

// Detail is what a voter sees on the ballot page.
type Detail struct {
	Question *model.Question
	Choices  []*model.Choice
	// Text of the user's current choice, empty when they have not voted.
	UserChoice   string
	UserChoiceID int64
}

// QuestionDetail returns the ballot for userID. Unpublished questions yield
// ErrNotPublished and closed ones ErrPollEnded.
func (s *PollService) QuestionDetail(ctx context.Context, id, userID int64) (*Detail, error) {
	q, choices, err := s.Question(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !q.IsPublished(now) {
		return nil, errors.WithDetails(ErrNotPublished, "question", id)
	}
	if !q.CanVote(now) {
		return nil, errors.WithDetails(ErrPollEnded, "question", id)
	}

	d := &Detail{Question: q, Choices: choices}
	if userID == 0 {
		return d, nil
	}

	vote, err := s.repo.GetUserVote(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return d, nil
		}
		return nil, err
	}

	d.UserChoiceID = vote.ChoiceID
	for _, c := range choices {
		if c.ID == vote.ChoiceID {
			d.UserChoice = c.ChoiceText
		}
	}

	return d, nil
}

// Results returns the tally of a published question, served from the cache when possible.
func (s *PollService) Results(ctx context.Context, id int64) (*model.QuestionResults, error) {
	results, found, err := s.cache.GetResults(ctx, id)
	if err != nil {
		logger.WithError(err).WithField("question", id).Warn("results cache read failed")
	}

	if found && results != nil {
		metrics.ResultsCache.WithLabelValues("hit").Inc()
	} else {
		metrics.ResultsCache.WithLabelValues("miss").Inc()
		results, err = s.loadResults(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	if !results.Question.IsPublished(s.now()) {
		return nil, errors.WithDetails(ErrNotPublished, "question", id)
	}

	return results, nil
}

// loadResults tallies from the database and refills the cache.
func (s *PollService) loadResults(ctx context.Context, id int64) (*model.QuestionResults, error) {
	version := s.versions.current(id)

	q, choices, err := s.Question(ctx, id)
	if err != nil {
		return nil, err
	}

	results := model.NewQuestionResults(q, choices)
	s.storeResults(ctx, results, version)

	return results, nil
}

// storeResults caches results tallied at version unless this instance has
// invalidated them since. A set racing an invalidation is undone by the
// second version check. Invalidations by other instances can still be
// overwritten; the cache TTL bounds how long such results stay stale.
func (s *PollService) storeResults(ctx context.Context, results *model.QuestionResults, version uint64) {
	id := results.Question.ID
	if s.versions.current(id) != version {
		logger.WithField("question", id).Debug("results changed while tallying, not cached")
		return
	}

	if err := s.cache.SetResults(ctx, results); err != nil {
		logger.WithError(err).WithField("question", id).Warn("results cache write failed")
		return
	}

	if s.versions.current(id) != version {
		if err := s.cache.DeleteResults(ctx, id); err != nil {
			logger.WithError(err).WithField("question", id).Warn("results cache invalidation failed")
		}
	}
}

// WarmResults recomputes the cached results of the latest questions.
func (s *PollService) WarmResults(ctx context.Context) (int, error) {
	questions, err := s.LatestQuestions(ctx)
	if err != nil {
		return 0, err
	}

	for _, q := range questions {
		if _, err := s.loadResults(ctx, q.ID); err != nil {
			return 0, err
		}
	}

	return len(questions), nil
}

// Choice returns ErrNoChoice unless choiceID is one of the question's choices.
func (s *PollService) Choice(ctx context.Context, questionID, choiceID int64) (*model.Choice, error) {
	if choiceID <= 0 {
		return nil, errors.WithStack(ErrNoChoice)
	}

	c, err := s.repo.GetChoice(ctx, questionID, choiceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.WithDetails(ErrNoChoice, "question", questionID, "choice", choiceID)
		}
		return nil, err
	}

	return c, nil
}

func voteLockName(userID, questionID int64) string {
	return "polls:vote:" + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(questionID, 10)
}

// Vote stores userID's choice for a question, replacing any earlier one, so
// a user holds at most one vote per question.
func (s *PollService) Vote(ctx context.Context, userID, questionID, choiceID int64) (*model.VoteEvent, error) {
	q, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !q.IsPublished(now) {
		metrics.Votes.WithLabelValues("rejected").Inc()
		return nil, errors.WithDetails(ErrNotPublished, "question", questionID)
	}
	if !q.CanVote(now) {
		metrics.Votes.WithLabelValues("rejected").Inc()
		return nil, errors.WithDetails(ErrPollEnded, "question", questionID)
	}

	if _, err := s.Choice(ctx, questionID, choiceID); err != nil {
		metrics.Votes.WithLabelValues("rejected").Inc()
		return nil, err
	}

	event := &model.VoteEvent{
		UserID:     userID,
		QuestionID: questionID,
		ChoiceID:   choiceID,
		VotedAt:    now,
	}

	err = lock.Do(ctx, s.locker, voteLockName(userID, questionID), s.lockTimeout, s.lockAttempts, func() error {
		prev, err := s.repo.SaveVote(ctx, userID, questionID, choiceID, now)
		event.PreviousChoiceID = prev
		return err
	})
	if err != nil {
		metrics.Votes.WithLabelValues("failed").Inc()
		return nil, errors.WrapIfWithDetails(err, "failed to save vote", "user", userID, "question", questionID)
	}

	if event.PreviousChoiceID == 0 {
		metrics.Votes.WithLabelValues("stored").Inc()
	} else {
		metrics.Votes.WithLabelValues("changed").Inc()
	}

	s.invalidate(ctx, questionID)
	s.recordEvent(ctx, event)

	return event, nil
}

// recordEvent publishes the event, or writes the audit row inline when
// there is no publisher or publishing fails.
func (s *PollService) recordEvent(ctx context.Context, event *model.VoteEvent) {
	if s.publisher != nil {
		err := s.publisher.SendVoteEvent(ctx, event)
		if err == nil {
			metrics.VoteEvents.WithLabelValues("published").Inc()
			return
		}
		logger.WithError(err).WithField("question", event.QuestionID).Warn("publishing vote event failed, logging inline")
	}

	if err := s.repo.InsertVoteLog(ctx, event.Log()); err != nil {
		logger.WithError(err).WithField("question", event.QuestionID).Error("failed to write vote log")
		return
	}
	metrics.VoteEvents.WithLabelValues("fallback").Inc()
}

// ProcessVoteEvent is the consumer side of a published vote.
func (s *PollService) ProcessVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	if err := s.repo.InsertVoteLog(ctx, event.Log()); err != nil {
		return errors.WrapIf(err, "failed to process vote event")
	}

	s.invalidate(ctx, event.QuestionID)
	metrics.VoteEvents.WithLabelValues("consumed").Inc()
	return nil
}

func (s *PollService) VoteLogs(ctx context.Context, questionID int64) ([]*model.VoteLog, error) {
	return s.repo.ListVoteLogs(ctx, questionID)
}

func (s *PollService) invalidate(ctx context.Context, questionID int64) {
	s.versions.bump(questionID)
	if err := s.cache.DeleteResults(ctx, questionID); err != nil {
		logger.WithError(err).WithField("question", questionID).Warn("results cache invalidation failed")
	}
}

func validateText(field, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return invalid(field + " is required")
	}
	if utf8.RuneCountInString(text) > model.MaxTextLength {
		return invalid(field + " is longer than " + strconv.Itoa(model.MaxTextLength) + " characters")
	}
	return nil
}

func validateQuestion(q *model.Question) error {
	if err := validateText("question text", q.QuestionText); err != nil {
		return err
	}
	if q.PubDate.IsZero() {
		return invalid("publication date is required")
	}
	if q.EndDate != nil && q.EndDate.Before(q.PubDate) {
		return invalid("end date is before publication date")
	}
	return nil
}

// CreateQuestion adds a question. A zero pubDate publishes it immediately.
func (s *PollService) CreateQuestion(ctx context.Context, text string, pubDate time.Time, endDate *time.Time) (*model.Question, error) {
	if pubDate.IsZero() {
		pubDate = s.now()
	}

	q := &model.Question{
		QuestionText: strings.TrimSpace(text),
		PubDate:      pubDate,
		EndDate:      endDate,
	}
	if err := validateQuestion(q); err != nil {
		return nil, err
	}

	if err := s.repo.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}

	logger.WithField("question", q.ID).Info("question created")
	return q, nil
}

func (s *PollService) UpdateQuestion(ctx context.Context, q *model.Question) error {
	q.QuestionText = strings.TrimSpace(q.QuestionText)
	if err := validateQuestion(q); err != nil {
		return err
	}

	if err := s.repo.UpdateQuestion(ctx, q); err != nil {
		return err
	}

	s.invalidate(ctx, q.ID)
	return nil
}

func (s *PollService) DeleteQuestion(ctx context.Context, id int64) error {
	if err := s.repo.DeleteQuestion(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	logger.WithField("question", id).Info("question deleted")
	return nil
}

func (s *PollService) ListQuestions(ctx context.Context) ([]*model.Question, error) {
	return s.repo.ListQuestions(ctx)
}

// AddChoice appends a choice to an existing question.
func (s *PollService) AddChoice(ctx context.Context, questionID int64, text string) (*model.Choice, error) {
	if err := validateText("choice text", text); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetQuestion(ctx, questionID); err != nil {
		return nil, err
	}

	c := &model.Choice{QuestionID: questionID, ChoiceText: strings.TrimSpace(text)}
	if err := s.repo.CreateChoice(ctx, c); err != nil {
		return nil, err
	}

	s.invalidate(ctx, questionID)
	return c, nil
}
