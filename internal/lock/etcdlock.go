package lock

import (
	"context"
	"time"

	"emperror.dev/errors"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lvdashuaibi/pollbox/config"
)

// EtcdLock holds locks as keys bound to a lease that is kept alive until
// release. Every lease is granted with sessionTTL, so a crashed holder loses
// its locks sessionTTL after its last keep-alive. The timeout passed to
// AcquireLock and RefreshLock only bounds the etcd requests.
type EtcdLock struct {
	client     *clientv3.Client
	lease      clientv3.Lease
	sessionTTL int64 // lease TTL in seconds

	locks *registry[*lockEntry]
}

type lockEntry struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc // stops the keep-alive loop
}

func NewETCDLock(cfg config.ETCDConfig) (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, errors.WrapIf(err, "failed to create etcd client")
	}

	return &EtcdLock{
		client:     cli,
		lease:      clientv3.NewLease(cli),
		sessionTTL: leaseTTL(cfg.SessionTTL),
		locks:      newRegistry[*lockEntry](),
	}, nil
}

// leaseTTL converts the configured session TTL to whole seconds, defaulting to 10.
func leaseTTL(d time.Duration) int64 {
	ttl := int64(d / time.Second)
	if ttl < 1 {
		ttl = 10
	}
	return ttl
}

func lockKey(lockName string) string {
	return "/locks/" + lockName
}

func (el *EtcdLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	if !el.locks.reserve(lockName) {
		return false, nil
	}

	entry, err := el.acquire(lockName, timeout)
	el.locks.settle(lockName, entry, entry != nil)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

func (el *EtcdLock) acquire(lockName string, timeout time.Duration) (*lockEntry, error) {
	key := lockKey(lockName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	grantResp, err := el.lease.Grant(ctx, el.sessionTTL)
	if err != nil {
		return nil, errors.WrapIf(err, "failed to grant lease")
	}

	txnResp, err := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grantResp.ID))).
		Commit()
	if err != nil {
		el.lease.Revoke(context.Background(), grantResp.ID)
		return nil, errors.WrapIf(err, "lock transaction failed")
	}

	if !txnResp.Succeeded {
		el.lease.Revoke(context.Background(), grantResp.ID)
		return nil, nil
	}

	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())
	go el.keepAlive(keepAliveCtx, grantResp.ID)

	return &lockEntry{
		leaseID: grantResp.ID,
		key:     key,
		cancel:  keepAliveCancel,
	}, nil
}

func (el *EtcdLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	entry, ok := el.locks.get(lockName)
	if !ok {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := el.lease.KeepAliveOnce(ctx, entry.leaseID)
	if err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			entry.cancel()
			el.locks.drop(lockName, func(held *lockEntry) bool { return held == entry })
			return false, nil
		}
		return false, errors.WrapIf(err, "failed to refresh lease")
	}

	return true, nil
}

func (el *EtcdLock) ReleaseLock(lockName string) error {
	entry, ok := el.locks.take(lockName)
	if !ok {
		return nil
	}
	return el.release(entry)
}

func (el *EtcdLock) ReleaseAllLocks() {
	for lockName, entry := range el.locks.takeAll() {
		if err := el.release(entry); err != nil {
			logger.WithError(err).WithField("lock", lockName).Warn("failed to release etcd lock")
		}
	}
}

func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	if err := el.lease.Close(); err != nil {
		logger.WithError(err).Warn("failed to close etcd lease client")
	}
	return el.client.Close()
}

func (el *EtcdLock) keepAlive(ctx context.Context, leaseID clientv3.LeaseID) {
	interval := time.Duration(el.sessionTTL) * time.Second / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := el.lease.KeepAliveOnce(ctx, leaseID); err != nil {
				if ctx.Err() == nil {
					logger.WithError(err).Warn("etcd lease keep-alive stopped")
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (el *EtcdLock) release(entry *lockEntry) error {
	entry.cancel()

	if _, err := el.client.Delete(context.Background(), entry.key); err != nil {
		return errors.WrapIf(err, "failed to delete lock key")
	}

	// revoking the lease drops the key too if the delete above raced an expiry
	if _, err := el.lease.Revoke(context.Background(), entry.leaseID); err != nil {
		return errors.WrapIf(err, "failed to revoke lease")
	}

	return nil
}
