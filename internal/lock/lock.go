package lock

import (
	"context"
	"time"

	"emperror.dev/errors"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/logging"
)

// ErrNotAcquired is returned by Do when every attempt found the lock taken.
const ErrNotAcquired = errors.Sentinel("lock not acquired")

var logger = logging.For("lock")

// Lock is a named mutual-exclusion lock with an expiry.
type Lock interface {
	// AcquireLock reports false without error when someone else holds the lock.
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// RefreshLock extends a held lock. False means the lock was lost.
	RefreshLock(lockName string, timeout time.Duration) (bool, error)

	ReleaseLock(lockName string) error

	// ReleaseAllLocks releases every lock held by this instance.
	ReleaseAllLocks()

	Close() error
}

// New builds the lock backend named by cfg.Lock.Driver.
func New(cfg *config.Config) (Lock, error) {
	switch cfg.Lock.Driver {
	case "", "local":
		return NewLocalLock(), nil
	case "redis":
		return NewRedLock(cfg.Redis, cfg.Lock.RetryCount)
	case "etcd":
		return NewETCDLock(cfg.ETCD)
	default:
		return nil, errors.Errorf("unsupported lock driver %q", cfg.Lock.Driver)
	}
}

// Do runs fn while holding lockName. Acquisition is retried with a short
// backoff until attempts run out or ctx is done.
func Do(ctx context.Context, l Lock, lockName string, ttl time.Duration, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := 10 * time.Millisecond
	for i := 0; i < attempts; i++ {
		ok, err := l.AcquireLock(lockName, ttl)
		if err != nil {
			return errors.WrapIfWithDetails(err, "failed to acquire lock", "lock", lockName)
		}
		if ok {
			defer func() {
				if err := l.ReleaseLock(lockName); err != nil {
					logger.WithError(err).WithField("lock", lockName).Warn("failed to release lock")
				}
			}()
			return fn()
		}

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}

	return errors.WithDetails(ErrNotAcquired, "lock", lockName)
}
