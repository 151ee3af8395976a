package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/lvdashuaibi/pollbox/internal/lock"
	"github.com/lvdashuaibi/pollbox/internal/logging"
)

// LeaderLockName is held by the one instance that warms the results cache.
const LeaderLockName = "polls:refresher:leader"

var logger = logging.For("refresher")

// Warmer recomputes cached results and reports how many questions it touched.
type Warmer interface {
	WarmResults(ctx context.Context) (int, error)
}

// Refresher periodically warms the results cache while it holds the leader lock.
type Refresher struct {
	warmer   Warmer
	locker   lock.Lock
	interval time.Duration

	mu       sync.Mutex
	isLeader bool
	stopChan chan struct{}
	done     chan struct{}
}

func New(warmer Warmer, locker lock.Lock, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{
		warmer:   warmer,
		locker:   locker,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine until Stop.
func (r *Refresher) Start() {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.tick()
		for {
			select {
			case <-ticker.C:
				r.tick()
			case <-r.stopChan:
				return
			}
		}
	}()

	logger.WithField("interval", r.interval).Info("results refresher started")
}

// tick keeps or wins leadership, then warms the cache if leader.
func (r *Refresher) tick() {
	if !r.holdLeadership() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	n, err := r.warmer.WarmResults(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to warm results cache")
		return
	}
	logger.WithField("questions", n).Debug("results cache warmed")
}

// holdLeadership refreshes a held leader lock or tries to take a free one.
// The lock lives for two intervals so a missed tick does not lose it.
func (r *Refresher) holdLeadership() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ttl := 2 * r.interval
	if r.isLeader {
		ok, err := r.locker.RefreshLock(LeaderLockName, ttl)
		if err != nil {
			logger.WithError(err).Warn("failed to refresh leader lock")
		}
		if ok {
			return true
		}
		r.isLeader = false
		logger.Info("lost refresher leadership")
	}

	ok, err := r.locker.AcquireLock(LeaderLockName, ttl)
	if err != nil {
		logger.WithError(err).Warn("failed to acquire leader lock")
		return false
	}
	if ok {
		r.isLeader = true
		logger.Info("became refresher leader")
	}
	return ok
}

// IsLeader reports whether this instance currently warms the cache.
func (r *Refresher) IsLeader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isLeader
}

// Stop ends the loop and gives up leadership.
func (r *Refresher) Stop() {
	close(r.stopChan)
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isLeader {
		if err := r.locker.ReleaseLock(LeaderLockName); err != nil {
			logger.WithError(err).Warn("failed to release leader lock")
		}
		r.isLeader = false
	}

	logger.Info("results refresher stopped")
}
