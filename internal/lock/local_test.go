package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/pollbox/config"
)

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, err := l.AcquireLock("a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.AcquireLock("a", time.Second)
	assert.False(t, ok, "held lock must not be granted twice")

	ok, _ = l.RefreshLock("a", time.Second)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = l.RefreshLock("a", time.Second)
	assert.False(t, ok, "expired lock cannot be refreshed")

	ok, _ = l.AcquireLock("a", time.Second)
	assert.True(t, ok, "expired lock can be taken again")

	require.NoError(t, l.ReleaseLock("a"))
	ok, _ = l.AcquireLock("a", time.Second)
	assert.True(t, ok)

	l.ReleaseAllLocks()
	ok, _ = l.AcquireLock("a", time.Second)
	assert.True(t, ok)
}

func TestDoSerializes(t *testing.T) {
	l := NewLocalLock()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Do(context.Background(), l, "k", time.Second, 100, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestDoNotAcquired(t *testing.T) {
	l := NewLocalLock()
	ok, _ := l.AcquireLock("k", time.Minute)
	require.True(t, ok)

	called := false
	err := Do(context.Background(), l, "k", time.Second, 2, func() error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.False(t, called)
}

func TestDoReturnsFnError(t *testing.T) {
	l := NewLocalLock()
	boom := errors.New("boom")

	err := Do(context.Background(), l, "k", time.Second, 1, func() error { return boom })
	assert.Equal(t, boom, err)

	ok, _ := l.AcquireLock("k", time.Second)
	assert.True(t, ok, "lock is released after fn fails")
}

func TestNewLocal(t *testing.T) {
	l, err := New(&config.Config{Lock: config.LockConfig{Driver: "local"}})
	require.NoError(t, err)
	assert.IsType(t, &LocalLock{}, l)

	_, err = New(&config.Config{Lock: config.LockConfig{Driver: "zookeeper"}})
	assert.Error(t, err)
}
