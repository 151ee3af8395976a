package graph

import (
	"context"
	"strconv"
	"time"

	"emperror.dev/errors"
	graphql "github.com/graph-gophers/graphql-go"

	"github.com/lvdashuaibi/pollbox/internal/model"
	"github.com/lvdashuaibi/pollbox/internal/service"
)

// Resolver is the root of the schema.
type Resolver struct {
	polls *service.PollService
}

func NewResolver(polls *service.PollService) *Resolver {
	return &Resolver{polls: polls}
}

func parseID(id graphql.ID) (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid id %q", string(id))
	}
	return n, nil
}

func toID(n int64) graphql.ID {
	return graphql.ID(strconv.FormatInt(n, 10))
}

// publicError hides internal failures behind a stable message.
func publicError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return errors.New("question not found")
	case errors.Is(err, service.ErrNotPublished):
		return errors.New("This poll not publish yet.")
	case errors.Is(err, service.ErrPollEnded):
		return errors.New("This poll is ended.")
	case errors.Is(err, service.ErrNoChoice):
		return errors.New("You didn't select a choice.")
	default:
		logger.WithError(err).Error("graphql request failed")
		return errors.New("internal error")
	}
}

func (r *Resolver) Questions(ctx context.Context) ([]*questionResolver, error) {
	questions, err := r.polls.LatestQuestions(ctx)
	if err != nil {
		return nil, publicError(err)
	}

	out := make([]*questionResolver, len(questions))
	for i, q := range questions {
		out[i] = &questionResolver{q: q, polls: r.polls}
	}
	return out, nil
}

func (r *Resolver) Question(ctx context.Context, args struct{ ID graphql.ID }) (*questionResolver, error) {
	id, err := parseID(args.ID)
	if err != nil {
		return nil, err
	}

	q, choices, err := r.polls.Question(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, nil
		}
		return nil, publicError(err)
	}
	if !q.IsPublished(r.polls.Now()) {
		return nil, nil
	}

	return &questionResolver{q: q, choices: choices, polls: r.polls}, nil
}

func (r *Resolver) Results(ctx context.Context, args struct{ ID graphql.ID }) (*resultsResolver, error) {
	id, err := parseID(args.ID)
	if err != nil {
		return nil, err
	}

	results, err := r.polls.Results(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrNotPublished) {
			return nil, nil
		}
		return nil, publicError(err)
	}

	return &resultsResolver{results: results, polls: r.polls}, nil
}

type voteArgs struct {
	QuestionID graphql.ID
	ChoiceID   graphql.ID
}

func (r *Resolver) Vote(ctx context.Context, args voteArgs) (*voteResultResolver, error) {
	userID := viewer(ctx)
	if userID == 0 {
		return nil, errors.New("authentication required")
	}

	questionID, err := parseID(args.QuestionID)
	if err != nil {
		return nil, err
	}
	choiceID, err := strconv.ParseInt(string(args.ChoiceID), 10, 64)
	if err != nil {
		return nil, publicError(service.ErrNoChoice)
	}

	event, err := r.polls.Vote(ctx, userID, questionID, choiceID)
	if err != nil {
		return nil, publicError(err)
	}

	results, err := r.polls.Results(ctx, questionID)
	if err != nil {
		return nil, publicError(err)
	}

	return &voteResultResolver{event: event, results: &resultsResolver{results: results, polls: r.polls}}, nil
}

type questionResolver struct {
	q       *model.Question
	choices []*model.Choice // loaded on demand when nil
	polls   *service.PollService
}

func (r *questionResolver) ID() graphql.ID {
	return toID(r.q.ID)
}

func (r *questionResolver) QuestionText() string {
	return r.q.QuestionText
}

func (r *questionResolver) PubDate() string {
	return r.q.PubDate.UTC().Format(time.RFC3339)
}

func (r *questionResolver) EndDate() *string {
	if r.q.EndDate == nil {
		return nil
	}
	s := r.q.EndDate.UTC().Format(time.RFC3339)
	return &s
}

func (r *questionResolver) WasPublishedRecently() bool {
	return r.q.WasPublishedRecently(r.polls.Now())
}

func (r *questionResolver) CanVote() bool {
	return r.q.CanVote(r.polls.Now())
}

func (r *questionResolver) Choices(ctx context.Context) ([]*choiceResolver, error) {
	if r.choices == nil {
		_, choices, err := r.polls.Question(ctx, r.q.ID)
		if err != nil {
			return nil, publicError(err)
		}
		r.choices = choices
	}
	return choiceResolvers(r.choices), nil
}

type choiceResolver struct {
	c *model.Choice
}

func choiceResolvers(choices []*model.Choice) []*choiceResolver {
	out := make([]*choiceResolver, len(choices))
	for i, c := range choices {
		out[i] = &choiceResolver{c: c}
	}
	return out
}

func (r *choiceResolver) ID() graphql.ID {
	return toID(r.c.ID)
}

func (r *choiceResolver) ChoiceText() string {
	return r.c.ChoiceText
}

func (r *choiceResolver) Votes() int32 {
	return int32(r.c.Votes)
}

type resultsResolver struct {
	results *model.QuestionResults
	polls   *service.PollService
}

func (r *resultsResolver) Question() *questionResolver {
	q := r.results.Question
	return &questionResolver{q: &q, choices: r.results.Choices, polls: r.polls}
}

func (r *resultsResolver) Choices() []*choiceResolver {
	return choiceResolvers(r.results.Choices)
}

func (r *resultsResolver) TotalVotes() int32 {
	return int32(r.results.TotalVotes)
}

type voteResultResolver struct {
	event   *model.VoteEvent
	results *resultsResolver
}

func (r *voteResultResolver) QuestionID() graphql.ID {
	return toID(r.event.QuestionID)
}

func (r *voteResultResolver) ChoiceID() graphql.ID {
	return toID(r.event.ChoiceID)
}

func (r *voteResultResolver) PreviousChoiceID() *graphql.ID {
	if r.event.PreviousChoiceID == 0 {
		return nil
	}
	id := toID(r.event.PreviousChoiceID)
	return &id
}

func (r *voteResultResolver) VotedAt() string {
	return r.event.VotedAt.UTC().Format(time.RFC3339)
}

func (r *voteResultResolver) Results() *resultsResolver {
	return r.results
}
