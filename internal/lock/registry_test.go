package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/pollbox/config"
)

func TestRegistry(t *testing.T) {
	r := newRegistry[string]()

	require.True(t, r.reserve("a"))
	assert.False(t, r.reserve("a"), "name in flight cannot be reserved twice")
	assert.True(t, r.reserve("b"), "other names are independent")

	r.settle("b", "", false)
	assert.True(t, r.reserve("b"), "failed acquisition frees the name")

	r.settle("a", "token-1", true)
	assert.False(t, r.reserve("a"), "held name cannot be reserved")

	token, ok := r.get("a")
	require.True(t, ok)
	assert.Equal(t, "token-1", token)

	r.drop("a", func(v string) bool { return v == "token-0" })
	_, ok = r.get("a")
	assert.True(t, ok, "drop keeps a lock that was taken again")

	r.drop("a", func(v string) bool { return v == "token-1" })
	_, ok = r.get("a")
	assert.False(t, ok)

	r.settle("b", "token-2", true)
	token, ok = r.take("b")
	require.True(t, ok)
	assert.Equal(t, "token-2", token)
	_, ok = r.take("b")
	assert.False(t, ok)

	require.True(t, r.reserve("c"))
	r.settle("c", "token-3", true)
	require.True(t, r.reserve("d"))
	r.settle("d", "token-4", true)
	assert.Equal(t, map[string]string{"c": "token-3", "d": "token-4"}, r.takeAll())
	assert.Empty(t, r.takeAll())
}

// A RedLock without nodes never reaches quorum, so each AcquireLock spends
// its retries sleeping. Those sleeps must not block other lock names.
func TestRedLockAcquireDoesNotSerializeNames(t *testing.T) {
	r, err := NewRedLock(config.RedisConfig{}, 3)
	require.NoError(t, err)
	defer r.Close()

	start := time.Now()
	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			ok, err := r.AcquireLock(name, time.Second)
			assert.NoError(t, err)
			results[i] = ok
		}(i, name)
	}

	// same name while the first acquisition is still retrying
	time.Sleep(50 * time.Millisecond)
	sameStart := time.Now()
	ok, err := r.AcquireLock("a", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(sameStart), 50*time.Millisecond, "in-flight name is refused without waiting")

	wg.Wait()
	assert.Equal(t, []bool{false, false}, results)
	assert.Less(t, time.Since(start), 550*time.Millisecond, "acquisitions of different names ran one after another")

	ok, _ = r.RefreshLock("a", time.Second)
	assert.False(t, ok)
	assert.NoError(t, r.ReleaseLock("a"))
}

func TestLeaseTTL(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{in: 0, want: 10},
		{in: 500 * time.Millisecond, want: 10},
		{in: 30 * time.Second, want: 30},
		{in: 90 * time.Second, want: 90},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, leaseTTL(tt.in), "session ttl %s", tt.in)
	}
}

func TestNewETCDLockSharesOneLease(t *testing.T) {
	// without a dial timeout the client connects lazily
	el, err := NewETCDLock(config.ETCDConfig{Endpoints: []string{"127.0.0.1:2379"}, SessionTTL: 15 * time.Second})
	require.NoError(t, err)
	defer el.client.Close()

	assert.NotNil(t, el.lease)
	assert.Equal(t, int64(15), el.sessionTTL)

	ok, err := el.RefreshLock("missing", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, el.ReleaseLock("missing"))
	el.ReleaseAllLocks()
}
