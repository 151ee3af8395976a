package main

import (
	"context"
	"flag"
	"time"

	"emperror.dev/errors"
	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/lock"
	"github.com/lvdashuaibi/pollbox/internal/logging"
	"github.com/lvdashuaibi/pollbox/internal/repository"
	"github.com/lvdashuaibi/pollbox/internal/service"
	"github.com/lvdashuaibi/pollbox/internal/session"
)

const (
	MigrateLockName    = "polls:migrate:lock"
	LockAcquireTimeout = 30 * time.Second
)

var logger = logging.For("main")

// app holds the backends every command shares.
type app struct {
	cfg    *config.Config
	repo   *repository.SQLRepository
	locker lock.Lock
	cache  service.ResultsCache
	redis  *redis.Client

	redisCache *repository.RedisRepository
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "config/config.yaml", "path to the configuration file")
}

// openApp loads configuration, sets up logging and connects the database,
// lock backend and results cache.
func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := logging.Setup(cfg.Log); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	a.repo, err = repository.NewSQLRepository(cfg.Database)
	if err != nil {
		return nil, err
	}

	a.locker, err = lock.New(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.Enabled {
		a.redis, err = repository.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redisCache = repository.NewRedisRepository(a.redis, cfg.Polls.ResultsCacheTTL)
		a.cache = a.redisCache
	} else {
		a.cache = repository.NewMemoryCache(cfg.Polls.ResultsCacheTTL)
	}

	return a, nil
}

// migrate creates the schema while holding the migration lock so that
// instances starting together do not race.
func (a *app) migrate(ctx context.Context) error {
	err := lock.Do(ctx, a.locker, MigrateLockName, LockAcquireTimeout, 300, func() error {
		return a.repo.Migrate(ctx)
	})
	return errors.WrapIf(err, "migration failed")
}

func (a *app) pollService(publisher service.EventPublisher) *service.PollService {
	return service.NewPollService(a.repo, a.cache, a.locker, publisher, a.cfg.Polls, a.cfg.Lock)
}

func (a *app) sessionStore() session.Store {
	if a.redis != nil {
		return session.NewRedisStore(a.redis)
	}
	return session.NewMemoryStore()
}

func (a *app) Close() {
	if a.locker != nil {
		a.locker.ReleaseAllLocks()
		if err := a.locker.Close(); err != nil {
			logger.WithError(err).Warn("failed to close lock backend")
		}
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if a.repo != nil {
		a.repo.Close()
	}
}
