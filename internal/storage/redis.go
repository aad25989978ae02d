package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

// reserveScript increments and, when the new value exceeds the limit, undoes
// the increment inside the same script so no over-limit state is ever
// observable by another client as an admitted reservation.
var reserveScript = r.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return -1
end
return v`)

// decrClampScript clamps at zero and signals the clamp with -1 so the caller
// can record the anomaly.
var decrClampScript = r.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
  redis.call('SET', KEYS[1], 0)
  return -1
end
return v`)

// compareDeleteScript deletes the key only while it still holds the caller's
// value. GET and DEL must be one server-side step; a client-side
// read-then-delete would race a concurrent re-acquire.
var compareDeleteScript = r.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)

// RedisStore implements Storage against a Redis-compatible backend.
type RedisStore struct{ rdb *r.Client }

func NewRedis(rdb *r.Client) *RedisStore { return &RedisStore{rdb} }

func (s *RedisStore) IncrWithLimit(ctx context.Context, key string, limit int64) (int64, bool, error) {
	v, err := reserveScript.Run(ctx, s.rdb, []string{key}, limit).Int64()
	if err != nil {
		return 0, false, errors.Wrapf(err, "reserve on %s", key)
	}
	if v < 0 {
		return limit, false, nil
	}
	return v, true, nil
}

func (s *RedisStore) DecrClamp(ctx context.Context, key string) (int64, bool, error) {
	v, err := decrClampScript.Run(ctx, s.rdb, []string{key}).Int64()
	if err != nil {
		return 0, false, errors.Wrapf(err, "decrement on %s", key)
	}
	if v < 0 {
		return 0, true, nil
	}
	return v, false, nil
}

func (s *RedisStore) GetCounter(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, key).Int64()
	if err == r.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "get counter %s", key)
	}
	return v, nil
}

func (s *RedisStore) SetCounter(ctx context.Context, key string, value int64) error {
	return errors.Wrapf(s.rdb.Set(ctx, key, value, 0).Err(), "set counter %s", key)
}

func (s *RedisStore) PutRecord(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return errors.Wrapf(s.rdb.Set(ctx, key, data, ttl).Err(), "put record %s", key)
}

func (s *RedisStore) GetRecord(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == r.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get record %s", key)
	}
	return data, nil
}

func (s *RedisStore) DeleteRecord(ctx context.Context, key string) error {
	return errors.Wrapf(s.rdb.Del(ctx, key).Err(), "delete record %s", key)
}

func (s *RedisStore) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s*", prefix)
	}
	return keys, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "setnx %s", key)
	}
	return ok, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareDeleteScript.Run(ctx, s.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "compare-and-delete %s", key)
	}
	return n == 1, nil
}

func (s *RedisStore) PushQueue(ctx context.Context, key, value string) error {
	return errors.Wrapf(s.rdb.LPush(ctx, key, value).Err(), "push %s", key)
}

func (s *RedisStore) PopQueue(ctx context.Context, key string, block time.Duration) (string, error) {
	res, err := s.rdb.BRPop(ctx, block, key).Result()
	if err == r.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "pop %s", key)
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", ErrNotFound
}

func (s *RedisStore) QueueLen(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "llen %s", key)
	}
	return n, nil
}

func (s *RedisStore) DeleteQueue(ctx context.Context, key string) error {
	return errors.Wrapf(s.rdb.Del(ctx, key).Err(), "delete queue %s", key)
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.Wrapf(s.rdb.Publish(ctx, channel, payload).Err(), "publish %s", channel)
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so publishes
	// that happen after Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(err, "subscribe %s", channel)
	}
	sub := &redisSubscription{ps: ps, ch: make(chan []byte, 64)}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps *r.PubSub
	ch chan []byte
}

func (s *redisSubscription) pump() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		s.ch <- []byte(msg.Payload)
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.ch }

func (s *redisSubscription) Close() error { return s.ps.Close() }

func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.rdb.Ping(ctx).Err(), "redis ping")
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
