// Package lock provides cross-process mutual exclusion on top of the
// coordination store's set-if-absent and compare-and-delete primitives.
// Leases carry a TTL so a crashed holder cannot deadlock a key: expiry is
// the designed recovery path.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/metrics"
	"github.com/you/slotq/internal/storage"
)

const (
	DefaultTTL       = 30 * time.Second
	defaultRetryBase = 50 * time.Millisecond
	defaultRetryMax  = time.Second
)

type Options struct {
	DefaultTTL time.Duration
	RetryBase  time.Duration
	RetryMax   time.Duration
}

// Lock acquires and releases leases on named keys. Constructed with a nil
// store it runs in pass-through mode: every acquire succeeds immediately and
// no exclusion is provided. That trade is made once, here, at construction,
// for single-process deployments; operations never fall back on their own.
type Lock struct {
	store storage.Storage
	opts  Options
	log   *zap.Logger
}

func New(store storage.Storage, opts Options, log *zap.Logger) *Lock {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = defaultRetryMax
	}
	if store == nil {
		log.Warn("lock backend absent: running in pass-through mode, cross-process exclusion disabled")
	}
	return &Lock{store: store, opts: opts, log: log}
}

// Enabled reports whether real exclusion is in effect.
func (l *Lock) Enabled() bool { return l.store != nil }

// Acquire claims key for ttl, retrying with capped exponential backoff until
// timeout. On success it returns the lease token that proves ownership at
// release time. Fails with domain.ErrLockTimeout when the window elapses.
func (l *Lock) Acquire(ctx context.Context, key string, ttl, timeout time.Duration) (string, error) {
	if l.store == nil {
		return "pass-through", nil
	}
	if ttl <= 0 {
		ttl = l.opts.DefaultTTL
	}

	token := uuid.NewString()
	storeKey := storage.LockKey(key)
	deadline := time.Now().Add(timeout)
	backoff := l.opts.RetryBase

	for {
		ok, err := l.store.SetIfAbsent(ctx, storeKey, token, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}

		wait := backoff
		if remaining := time.Until(deadline); remaining <= 0 {
			metrics.LockTimeouts.Inc()
			return "", domain.ErrLockTimeout
		} else if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > l.opts.RetryMax {
			backoff = l.opts.RetryMax
		}
	}
}

// AcquireBlocking is the non-context variant for callers without a
// cancellation scope. Exclusion and release semantics are those of Acquire;
// only the suspension mechanism differs.
func (l *Lock) AcquireBlocking(key string, ttl, timeout time.Duration) (string, error) {
	return l.Acquire(context.Background(), key, ttl, timeout)
}

// Release deletes the lease only if it still carries token. When the lease
// expired and a new holder took the key, the compare fails and nothing is
// deleted: a delayed release can never revoke a successor's lock.
func (l *Lock) Release(ctx context.Context, key, token string) error {
	if l.store == nil {
		return nil
	}
	ok, err := l.store.CompareAndDelete(ctx, storage.LockKey(key), token)
	if err != nil {
		return err
	}
	if !ok {
		l.log.Debug("lock release no-op: lease expired or superseded",
			zap.String("key", key))
	}
	return nil
}
