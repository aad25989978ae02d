package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for reads of absent keys and for queue pops that
// time out with nothing to deliver.
var ErrNotFound = errors.New("storage: key not found")

// Subscription is a handle on a pub/sub channel subscription. Messages is
// closed after Close returns.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Storage is the coordination-store contract. Every method is a single
// atomic operation against the backend; correctness across processes is
// derived from this atomicity, never from in-process locking. The
// implementation is chosen once at startup and injected everywhere.
type Storage interface {
	// IncrWithLimit atomically increments the counter at key. If the
	// post-increment value would exceed limit, the increment is undone in
	// the same server-side step and ok is false. This is the slot-reserve
	// primitive: two concurrent calls can never both be admitted into the
	// last free slot.
	IncrWithLimit(ctx context.Context, key string, limit int64) (value int64, ok bool, err error)

	// DecrClamp atomically decrements the counter at key, clamping the
	// result at zero. clamped reports that the decrement would have gone
	// negative, which callers must surface as an anomaly.
	DecrClamp(ctx context.Context, key string) (value int64, clamped bool, err error)

	GetCounter(ctx context.Context, key string) (int64, error)
	SetCounter(ctx context.Context, key string, value int64) error

	PutRecord(ctx context.Context, key string, data []byte, ttl time.Duration) error
	GetRecord(ctx context.Context, key string) ([]byte, error)
	DeleteRecord(ctx context.Context, key string) error
	ScanKeys(ctx context.Context, prefix string) ([]string, error)

	// SetIfAbsent atomically sets key to value with an expiry, only if the
	// key does not exist. The lock-acquire primitive.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals value,
	// as one indivisible server-side step. The lock-release primitive: a
	// stale holder can never delete a successor's lease.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	PushQueue(ctx context.Context, key, value string) error
	// PopQueue pops the oldest queued value, waiting up to block for one
	// to arrive. Returns ErrNotFound if the wait elapses empty.
	PopQueue(ctx context.Context, key string, block time.Duration) (string, error)
	QueueLen(ctx context.Context, key string) (int64, error)
	DeleteQueue(ctx context.Context, key string) error

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}
