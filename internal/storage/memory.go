package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Storage entirely in process. It backs
// single-process and development deployments, where cross-process atomicity
// collapses to a mutex, and the unit tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
	records  map[string]memEntry
	values   map[string]memEntry
	queues   map[string][]string
	subs     map[string][]*memorySubscription
}

type memEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int64),
		records:  make(map[string]memEntry),
		values:   make(map[string]memEntry),
		queues:   make(map[string][]string),
		subs:     make(map[string][]*memorySubscription),
	}
}

func (s *MemoryStore) IncrWithLimit(ctx context.Context, key string, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counters[key] + 1
	if v > limit {
		return limit, false, nil
	}
	s.counters[key] = v
	return v, true, nil
}

func (s *MemoryStore) DecrClamp(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counters[key] - 1
	if v < 0 {
		s.counters[key] = 0
		return 0, true, nil
	}
	s.counters[key] = v
	return v, false, nil
}

func (s *MemoryStore) GetCounter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

func (s *MemoryStore) SetCounter(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = value
	return nil
}

func (s *MemoryStore) PutRecord(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.records[key] = e
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[key]
	if !ok || e.expired(time.Now()) {
		delete(s.records, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

func (s *MemoryStore) DeleteRecord(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var keys []string
	for k, e := range s.records {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	for k, e := range s.values {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	for k := range s.counters {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	e := memEntry{data: []byte(value)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.values[key] = e
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || e.expired(time.Now()) || string(e.data) != value {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func (s *MemoryStore) PushQueue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[key] = append(s.queues[key], value)
	return nil
}

func (s *MemoryStore) PopQueue(ctx context.Context, key string, block time.Duration) (string, error) {
	deadline := time.Now().Add(block)
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) > 0 {
			v := q[0]
			s.queues[key] = q[1:]
			s.mu.Unlock()
			return v, nil
		}
		s.mu.Unlock()

		if block <= 0 || !time.Now().Before(deadline) {
			return "", ErrNotFound
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) QueueLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queues[key])), nil
}

func (s *MemoryStore) DeleteQueue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, key)
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := append([]*memorySubscription(nil), s.subs[channel]...)
	s.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- append([]byte(nil), payload...):
		default:
			// Slow subscriber; progress traffic is best-effort.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:   s,
		channel: channel,
		ch:      make(chan []byte, 64),
	}
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	store   *MemoryStore
	channel string
	ch      chan []byte
	once    sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		subs := s.store.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.store.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
