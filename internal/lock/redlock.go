package lock

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/lvdashuaibi/pollbox/config"
)

const (
	refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`

	unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`
)

// RedLock takes a lock on a majority of independent redis nodes.
type RedLock struct {
	clients []*redis.Client
	addrs   []string
	ctx     context.Context
	retries int

	locks *registry[string] // lock name -> token
}

func NewRedLock(cfg config.RedisConfig, retries int) (*RedLock, error) {
	ctx := context.Background()

	var clients []*redis.Client
	for _, addr := range cfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			for _, c := range clients {
				c.Close()
			}
			return nil, errors.WrapIfWithDetails(err, "redis lock node ping failed", "addr", addr)
		}

		clients = append(clients, client)
	}

	if retries < 1 {
		retries = 1
	}

	return &RedLock{
		clients: clients,
		addrs:   cfg.LockAddresses,
		ctx:     ctx,
		retries: retries,
		locks:   newRegistry[string](),
	}, nil
}

func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

func (r *RedLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	if !r.locks.reserve(lockName) {
		return false, nil
	}

	token := uuid.NewString()
	acquired := r.acquire(lockName, token, timeout)
	r.locks.settle(lockName, token, acquired)
	if acquired {
		logger.WithField("lock", lockName).Debug("lock acquired")
	}
	return acquired, nil
}

func (r *RedLock) acquire(lockName, token string, timeout time.Duration) bool {
	for attempt := 0; attempt < r.retries; attempt++ {
		success := 0
		start := time.Now()

		for i, client := range r.clients {
			ok, err := client.SetNX(r.ctx, lockName, token, timeout).Result()
			if err != nil {
				logger.WithError(err).WithField("node", r.addrs[i]).WithField("lock", lockName).Warn("lock node unavailable")
				continue
			}
			if ok {
				success++
			}
		}

		validity := timeout - time.Since(start)
		if success >= r.quorum() && validity > 0 {
			return true
		}

		r.unlockAll(lockName, token)
		time.Sleep(100 * time.Millisecond)
	}

	return false
}

func (r *RedLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	token, held := r.locks.get(lockName)
	if !held {
		return false, nil
	}

	success := 0
	for i, client := range r.clients {
		result, err := client.Eval(r.ctx, refreshScript, []string{lockName}, token, int64(timeout/time.Millisecond)).Int64()
		if err != nil {
			logger.WithError(err).WithField("node", r.addrs[i]).WithField("lock", lockName).Warn("failed to refresh lock on node")
			continue
		}
		if result == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}

	r.locks.drop(lockName, func(held string) bool { return held == token })
	return false, nil
}

func (r *RedLock) ReleaseLock(lockName string) error {
	token, held := r.locks.take(lockName)
	if !held {
		return nil
	}

	r.unlockAll(lockName, token)
	return nil
}

// unlockAll deletes the key on every node where it still carries token.
func (r *RedLock) unlockAll(lockName string, token string) {
	for i, client := range r.clients {
		if err := client.Eval(r.ctx, unlockScript, []string{lockName}, token).Err(); err != nil {
			logger.WithError(err).WithField("node", r.addrs[i]).WithField("lock", lockName).Warn("failed to release lock on node")
		}
	}
}

func (r *RedLock) ReleaseAllLocks() {
	for name, token := range r.locks.takeAll() {
		r.unlockAll(name, token)
	}
}

func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for i, client := range r.clients {
		if err := client.Close(); err != nil {
			logger.WithError(err).WithField("node", r.addrs[i]).Warn("failed to close redis client")
		}
	}

	return nil
}
