package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryIncrWithLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		v, ok, err := s.IncrWithLimit(ctx, "c", 3)
		if err != nil {
			t.Fatalf("IncrWithLimit: %v", err)
		}
		if !ok || v != int64(i) {
			t.Errorf("attempt %d: got (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}

	_, ok, err := s.IncrWithLimit(ctx, "c", 3)
	if err != nil {
		t.Fatalf("IncrWithLimit: %v", err)
	}
	if ok {
		t.Error("expected rejection past the limit")
	}
	if v, _ := s.GetCounter(ctx, "c"); v != 3 {
		t.Errorf("counter after rejection = %d, want 3 (rejection must not leak an increment)", v)
	}
}

func TestMemoryDecrClamp(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.SetCounter(ctx, "c", 1)
	v, clamped, err := s.DecrClamp(ctx, "c")
	if err != nil {
		t.Fatalf("DecrClamp: %v", err)
	}
	if v != 0 || clamped {
		t.Errorf("got (%d, %v), want (0, false)", v, clamped)
	}

	v, clamped, err = s.DecrClamp(ctx, "c")
	if err != nil {
		t.Fatalf("DecrClamp: %v", err)
	}
	if v != 0 || !clamped {
		t.Errorf("got (%d, %v), want (0, true): decrement below zero must clamp and report", v, clamped)
	}
}

func TestMemorySetIfAbsent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "lock:k", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetIfAbsent = (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = s.SetIfAbsent(ctx, "lock:k", "b", time.Minute)
	if ok {
		t.Error("second SetIfAbsent succeeded while key held")
	}
}

func TestMemorySetIfAbsentExpiry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if ok, _ := s.SetIfAbsent(ctx, "lock:k", "a", 10*time.Millisecond); !ok {
		t.Fatal("initial set failed")
	}
	time.Sleep(20 * time.Millisecond)
	if ok, _ := s.SetIfAbsent(ctx, "lock:k", "b", time.Minute); !ok {
		t.Error("expected acquire to succeed after TTL expiry")
	}
}

func TestMemoryCompareAndDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.SetIfAbsent(ctx, "lock:k", "a", time.Minute)

	ok, err := s.CompareAndDelete(ctx, "lock:k", "wrong")
	if err != nil {
		t.Fatalf("CompareAndDelete: %v", err)
	}
	if ok {
		t.Error("mismatched token deleted the key")
	}

	ok, _ = s.CompareAndDelete(ctx, "lock:k", "a")
	if !ok {
		t.Error("matching token failed to delete")
	}
	ok, _ = s.CompareAndDelete(ctx, "lock:k", "a")
	if ok {
		t.Error("second delete reported success on absent key")
	}
}

func TestMemoryRecordTTL(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.PutRecord(ctx, "k", []byte("v"), 10*time.Millisecond)
	if _, err := s.GetRecord(ctx, "k"); err != nil {
		t.Fatalf("GetRecord before expiry: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.GetRecord(ctx, "k"); err != ErrNotFound {
		t.Errorf("GetRecord after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3"} {
		if err := s.PushQueue(ctx, "q", v); err != nil {
			t.Fatalf("PushQueue: %v", err)
		}
	}
	for _, want := range []string{"1", "2", "3"} {
		got, err := s.PopQueue(ctx, "q", 0)
		if err != nil {
			t.Fatalf("PopQueue: %v", err)
		}
		if got != want {
			t.Errorf("PopQueue = %q, want %q", got, want)
		}
	}
	if _, err := s.PopQueue(ctx, "q", 0); err != ErrNotFound {
		t.Errorf("empty pop = %v, want ErrNotFound", err)
	}
}

func TestMemoryPopQueueBlocks(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.PushQueue(ctx, "q", "late")
	}()

	got, err := s.PopQueue(ctx, "q", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("PopQueue: %v", err)
	}
	if got != "late" {
		t.Errorf("PopQueue = %q, want %q", got, "late")
	}
}

func TestMemoryScanKeys(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.PutRecord(ctx, "job:state:tenant:a:job:1", []byte("{}"), 0)
	s.PutRecord(ctx, "job:state:tenant:a:job:2", []byte("{}"), 0)
	s.PutRecord(ctx, "job:state:tenant:b:job:1", []byte("{}"), 0)
	s.SetCounter(ctx, "job:semaphore:tenant:a", 2)

	keys, err := s.ScanKeys(ctx, "job:state:tenant:a:")
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("ScanKeys returned %d keys, want 2: %v", len(keys), keys)
	}

	keys, _ = s.ScanKeys(ctx, "job:semaphore:tenant:")
	if len(keys) != 1 {
		t.Errorf("semaphore scan returned %d keys, want 1", len(keys))
	}
}

func TestMemoryPubSub(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "ch")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := s.Publish(ctx, "ch", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg) != "hello" {
			t.Errorf("message = %q, want %q", msg, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemorySubscriptionCloseIdempotent(t *testing.T) {
	s := NewMemory()
	sub, _ := s.Subscribe(context.Background(), "ch")
	sub.Close()
	sub.Close() // must not panic
}

func TestTenantFromSemaphoreKey(t *testing.T) {
	tests := []struct {
		key    string
		tenant string
		ok     bool
	}{
		{"job:semaphore:tenant:acme", "acme", true},
		{"job:semaphore:tenant:", "", false},
		{"job:state:tenant:acme:job:1", "", false},
	}
	for _, tt := range tests {
		tenant, ok := TenantFromSemaphoreKey(tt.key)
		if tenant != tt.tenant || ok != tt.ok {
			t.Errorf("TenantFromSemaphoreKey(%q) = (%q, %v), want (%q, %v)",
				tt.key, tenant, ok, tt.tenant, tt.ok)
		}
	}
}
