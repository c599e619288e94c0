package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreTakeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	val, ok, err := s.TakeOnce(ctx, "k")
	if err != nil {
		t.Fatalf("TakeOnce: %v", err)
	}
	if !ok || string(val) != "v" {
		t.Fatalf("TakeOnce = (%q, %v), want (v, true)", val, ok)
	}

	// Single use: the second take must miss.
	if _, ok, _ := s.TakeOnce(ctx, "k"); ok {
		t.Error("second TakeOnce should miss")
	}
}

func TestMemoryStoreMissingKey(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	_, ok, err := s.TakeOnce(context.Background(), "absent")
	if err != nil {
		t.Fatalf("TakeOnce: %v", err)
	}
	if ok {
		t.Error("absent key should miss")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	if err := s.Put(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Expiry is enforced on read even with the sweeper disabled.
	if _, ok, _ := s.TakeOnce(ctx, "k"); ok {
		t.Error("expired entry should miss")
	}
}

func TestMemoryStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	defer s.Close()

	_ = s.Put(ctx, "k", []byte("old"), time.Minute)
	_ = s.Put(ctx, "k", []byte("new"), time.Minute)

	val, ok, err := s.TakeOnce(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("TakeOnce = (%v, %v), want hit", err, ok)
	}
	if string(val) != "new" {
		t.Errorf("TakeOnce = %q, want new", val)
	}
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore(time.Millisecond)
	s.Close()
	s.Close()
}
