package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paymentcore/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// Only the owner may release.
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock is a single-owner lease stored under lock:<key>.
type DistributedLock struct {
	client   redis.UniversalClient
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client redis.UniversalClient, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock once.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domainErrors.ErrLockAcquisitionFailed, err)
	}
	l.acquired = ok
	return ok, nil
}

// Extend pushes the lease expiry out by ttl.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}
	res, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if res == 0 {
		l.acquired = false
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// Release gives the lock back if this instance still owns it.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	res, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.acquired = false
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// IsAcquired returns whether the lock is acquired
func (l *DistributedLock) IsAcquired() bool {
	return l.acquired
}

// Locker hands out leases backed by a shared client.
type Locker struct {
	client redis.UniversalClient
}

func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// RunExclusive runs fn only if the lease for key is free. ran is false when
// another holder has it. The lease is renewed every ttl/2 while fn runs; if it
// is lost anyway, fn's context is cancelled and ErrLockNotHeld is returned.
func (lk *Locker) RunExclusive(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (ran bool, err error) {
	lock := NewDistributedLock(lk.client, key, ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		renew(runCtx, lock, ttl, cancel)
	}()

	err = fn(runCtx)
	cancel(nil)
	<-renewDone

	if !lock.IsAcquired() {
		return true, fmt.Errorf("lease on %s lost while running: %w", key, domainErrors.ErrLockNotHeld)
	}
	if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
		err = relErr
	}
	return true, err
}

func renew(ctx context.Context, lock *DistributedLock, ttl time.Duration, lost context.CancelCauseFunc) {
	interval := ttl / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Transient errors are retried on the next tick while the lease is still valid.
			if err := lock.Extend(ctx, ttl); errors.Is(err, domainErrors.ErrLockNotHeld) {
				lost(err)
				return
			}
		}
	}
}
