package workspace

import (
	"context"
	"testing"
	"time"
)

func newTestStore(ttl time.Duration) (*Store[string], *time.Time) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s := NewStore[string](ttl)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStore_PutGet(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	s.Put("a", "one")

	v, ok := s.Get("a")
	if !ok || v != "one" {
		t.Fatalf("expected one, got %q (ok=%v)", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("expected missing entry")
	}
}

func TestStore_Expiry(t *testing.T) {
	s, now := newTestStore(time.Minute)
	s.Put("a", "one")

	*now = now.Add(30 * time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("expected entry before ttl")
	}
	// Get extended the lifetime to now+1m.
	*now = now.Add(45 * time.Second)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("expected access to extend lifetime")
	}
	*now = now.Add(2 * time.Minute)
	if _, ok := s.Get("a"); ok {
		t.Error("expected entry to expire")
	}
	if n := s.Sweep(); n != 1 {
		t.Errorf("expected sweep to drop the expired entry, dropped %d", n)
	}
	if s.Len() != 0 {
		t.Errorf("expected expired entry removed, len=%d", s.Len())
	}
}

func TestStore_GetLeavesExpiredEntryForSweep(t *testing.T) {
	s, now := newTestStore(20 * time.Millisecond)
	s.Put("a", "one")

	*now = now.Add(50 * time.Millisecond)
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected expired entry to be hidden")
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected expired entry to stay hidden")
	}
	if n := s.Sweep(); n != 1 {
		t.Errorf("expected sweep to count the entry hidden by Get, dropped %d", n)
	}
	if n := s.Sweep(); n != 0 {
		t.Errorf("expected nothing left to sweep, dropped %d", n)
	}
}

func TestStore_NoTTL(t *testing.T) {
	s, now := newTestStore(0)
	s.Put("a", "one")
	*now = now.Add(24 * time.Hour)
	if _, ok := s.Get("a"); !ok {
		t.Error("expected entry without ttl to live forever")
	}
}

func TestStore_Sweep(t *testing.T) {
	s, now := newTestStore(time.Minute)
	s.Put("a", "one")
	s.Put("b", "two")
	*now = now.Add(90 * time.Second)
	s.Put("c", "three")

	if n := s.Sweep(); n != 2 {
		t.Errorf("expected 2 swept, got %d", n)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 left, got %d", s.Len())
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	s.Put("a", "one")
	s.Delete("a")
	if _, ok := s.Get("a"); ok {
		t.Error("expected deleted entry to be gone")
	}
}

func TestStore_RunJanitorStops(t *testing.T) {
	s := NewStore[string](time.Nanosecond)
	s.Put("a", "one")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	swept := make(chan int, 1)
	go func() {
		s.RunJanitor(ctx, time.Millisecond, func(n int) {
			select {
			case swept <- n:
			default:
			}
		})
		close(done)
	}()

	select {
	case n := <-swept:
		if n != 1 {
			t.Errorf("expected 1 swept, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not sweep")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
