package graph

import (
	"context"
	"net/http"
	"strings"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/lvdashuaibi/pollbox/internal/logging"
	"github.com/lvdashuaibi/pollbox/internal/service"
)

var logger = logging.For("graph")

// GraphQLServer serves the polls schema.
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

const schemaString = `
type Question {
  id: ID!
  questionText: String!
  pubDate: String!
  endDate: String
  wasPublishedRecently: Boolean!
  canVote: Boolean!
  choices: [Choice!]!
}

type Choice {
  id: ID!
  choiceText: String!
  votes: Int!
}

type Results {
  question: Question!
  choices: [Choice!]!
  totalVotes: Int!
}

type VoteResult {
  questionId: ID!
  choiceId: ID!
  previousChoiceId: ID
  votedAt: String!
  results: Results!
}

type Query {
  # latest published questions, newest first
  questions: [Question!]!

  # null when the question is unknown or not published
  question(id: ID!): Question

  results(id: ID!): Results
}

type Mutation {
  # requires a logged-in session
  vote(questionId: ID!, choiceId: ID!): VoteResult!
}

schema {
  query: Query
  mutation: Mutation
}
`

func NewGraphQLServer(polls *service.PollService) *GraphQLServer {
	resolver := NewResolver(polls)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
		graphql.MaxDepth(8),
	)

	return &GraphQLServer{
		schema:   schema,
		handler:  &relay.Handler{Schema: schema},
		resolver: resolver,
	}
}

// Handler answers POSTed GraphQL queries.
func (s *GraphQLServer) Handler() http.Handler {
	return s.handler
}

// Exec runs a query directly, without HTTP.
func (s *GraphQLServer) Exec(ctx context.Context, query string, variables map[string]interface{}) *graphql.Response {
	return s.schema.Exec(ctx, query, "", variables)
}

// PlaygroundHandler serves the GraphQL Playground pointed at endpoint.
func PlaygroundHandler(endpoint string) http.Handler {
	page := strings.Replace(playgroundHTML, "{{endpoint}}", endpoint, 1)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	})
}

type viewerKey struct{}

// WithViewer attaches the logged-in user's id to ctx. Zero means anonymous.
func WithViewer(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, viewerKey{}, userID)
}

func viewer(ctx context.Context) int64 {
	id, _ := ctx.Value(viewerKey{}).(int64)
	return id
}

const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Pollbox GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '{{endpoint}}',
        settings: { 'request.credentials': 'same-origin' }
      })
    })</script>
</body>
</html>
`
