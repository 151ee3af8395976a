package web

import (
	"context"
	"fmt"
	"html/template"
	"mime"
	"net/http"

	"emperror.dev/errors"
	"github.com/NYTimes/gziphandler"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/api/graph"
	"github.com/lvdashuaibi/pollbox/internal/logging"
	"github.com/lvdashuaibi/pollbox/internal/metrics"
	"github.com/lvdashuaibi/pollbox/internal/service"
	"github.com/lvdashuaibi/pollbox/internal/session"
)

var logger = logging.For("web")

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the browser-facing polls site.
type Server struct {
	cfg            *config.Config
	polls          *service.PollService
	auth           *service.AuthService
	sessionManager *session.Manager
	health         Pinger
	graph          *graph.GraphQLServer
	templates      map[string]*template.Template
	engine         *gin.Engine
	httpServer     *http.Server
}

// NewServer builds the router. graphQL may be nil to leave the API unmounted.
func NewServer(cfg *config.Config, polls *service.PollService, auth *service.AuthService,
	sessions *session.Manager, health Pinger, graphQL *graph.GraphQLServer) (*Server, error) {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:            cfg,
		polls:          polls,
		auth:           auth,
		sessionManager: sessions,
		health:         health,
		graph:          graphQL,
		templates:      templates,
		engine:         gin.New(),
	}
	s.routes()

	return s, nil
}

func (s *Server) routes() {
	r := s.engine
	r.Use(requestID(), accessLog(), gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(metrics.Middleware())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	site := r.Group("/", s.sessions())
	site.GET("/", func(c *gin.Context) { redirect(c, "/polls/") })

	polls := site.Group("/polls", s.csrf())
	{
		polls.GET("/", s.index)
		polls.GET("/:id/", s.detail)
		polls.GET("/:id/results/", s.results)
		polls.GET("/:id/vote/", s.vote)
		polls.POST("/:id/vote/", s.vote)
	}

	accounts := site.Group("/accounts", s.csrf())
	{
		limit := rateLimit(s.cfg.Server.LoginRate)
		accounts.GET("/login/", s.loginForm)
		accounts.POST("/login/", limit, s.login)
		accounts.POST("/logout/", s.logout)
		accounts.GET("/signup/", s.signupForm)
		accounts.POST("/signup/", limit, s.signup)
	}

	if s.graph != nil && s.cfg.GraphQL.Enabled {
		path := s.cfg.GraphQL.Path
		site.GET(path, gin.WrapH(graph.PlaygroundHandler(path)))
		site.POST(path, s.graphQL)
	}

	r.NoRoute(s.sessions(), s.notFound)
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			requestLogger(c).WithError(err).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// graphQL runs the API as the session's user. Only JSON bodies are accepted,
// so a cross-site form post cannot reach the vote mutation.
func (s *Server) graphQL(c *gin.Context) {
	mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil || mediaType != "application/json" {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be application/json"})
		return
	}

	sess := currentSession(c)
	c.Request = c.Request.WithContext(graph.WithViewer(c.Request.Context(), sess.UserID))
	s.graph.Handler().ServeHTTP(c.Writer, c.Request)
}

// Handler returns the router, gzip-wrapped when enabled.
func (s *Server) Handler() http.Handler {
	if s.cfg.Server.Gzip {
		return gziphandler.GzipHandler(s.engine)
	}
	return s.engine
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: s.Handler(),
	}

	logger.WithField("addr", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WrapIf(err, "http server failed")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return errors.WrapIf(s.httpServer.Shutdown(ctx), "failed to shut down http server")
}
