package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mitchellh/cli"

	"github.com/lvdashuaibi/pollbox/internal/api/graph"
	"github.com/lvdashuaibi/pollbox/internal/api/web"
	intkafka "github.com/lvdashuaibi/pollbox/internal/kafka"
	"github.com/lvdashuaibi/pollbox/internal/refresher"
	"github.com/lvdashuaibi/pollbox/internal/service"
	"github.com/lvdashuaibi/pollbox/internal/session"
)

type serveCommand struct {
	ui cli.Ui
}

func (c *serveCommand) Synopsis() string {
	return "Run the polls web server"
}

func (c *serveCommand) Help() string {
	return strings.TrimSpace(`
Usage: pollbox serve [-config path] [-instance n]

  Migrates the database, then serves the site, the GraphQL API and
  /metrics until SIGINT or SIGTERM. Instance n listens on port + n - 1
  so several instances can share one host.
`)
}

func (c *serveCommand) Run(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := configFlag(fs)
	instanceID := fs.Int("instance", 1, "instance number, offsets the listen port")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()

	a, err := openApp(ctx, *configPath)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	defer a.Close()
	cfg := a.cfg
	log := logger.WithField("instance", *instanceID)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "pollbox@" + version,
		}); err != nil {
			log.WithError(err).Warn("sentry disabled")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := a.migrate(ctx); err != nil {
		log.WithError(err).Error("failed to migrate database")
		return 1
	}

	var publisher service.EventPublisher
	var consumer *intkafka.Consumer
	if cfg.Kafka.Enabled {
		producer, err := intkafka.NewProducer(cfg.Kafka)
		if err != nil {
			log.WithError(err).Error("failed to create kafka producer")
			return 1
		}
		defer producer.Close()
		publisher = producer

		consumer, err = intkafka.NewConsumer(cfg.Kafka)
		if err != nil {
			log.WithError(err).Error("failed to create kafka consumer")
			return 1
		}
		defer consumer.Stop()
	}

	polls := a.pollService(publisher)
	auth := service.NewAuthService(a.repo)

	if consumer != nil {
		consumer.StartConsuming(polls.ProcessVoteEvent)
		log.Info("vote event consumer started")
	}

	warmer := refresher.New(polls, a.locker, cfg.Polls.RefreshInterval)
	warmer.Start()
	defer warmer.Stop()

	var graphQL *graph.GraphQLServer
	if cfg.GraphQL.Enabled {
		graphQL = graph.NewGraphQLServer(polls)
	}

	cfg.Server.Port += *instanceID - 1
	srv, err := web.NewServer(cfg, polls, auth, session.NewManager(a.sessionStore(), cfg.Session), a.repo, graphQL)
	if err != nil {
		log.WithError(err).Error("failed to build web server")
		return 1
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	log.WithField("port", cfg.Server.Port).Info("pollbox started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server stopped")
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}

	return 0
}
