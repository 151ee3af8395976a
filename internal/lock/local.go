package lock

import (
	"sync"
	"time"
)

// LocalLock is an in-process Lock for single-instance deployments and tests.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]time.Time // expiry per held lock
	now   func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (l *LocalLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.locks[lockName]; ok && now.Before(expiry) {
		return false, nil
	}

	l.locks[lockName] = now.Add(timeout)
	return true, nil
}

func (l *LocalLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expiry, ok := l.locks[lockName]
	if !ok || !now.Before(expiry) {
		delete(l.locks, lockName)
		return false, nil
	}

	l.locks[lockName] = now.Add(timeout)
	return true, nil
}

func (l *LocalLock) ReleaseLock(lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locks, lockName)
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.locks = make(map[string]time.Time)
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
