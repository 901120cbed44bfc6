package convo

import (
	"testing"
	"time"
)

func TestSessionStoreLazyCreate(t *testing.T) {
	store := NewSessionStore()
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}

	store.With(42, func(sess *Session) {
		if sess.UserID != 42 {
			t.Fatalf("expected user id 42, got %d", sess.UserID)
		}
		if sess.ChatID != 42 {
			t.Fatalf("expected chat id defaulted to user id, got %d", sess.ChatID)
		}
		if sess.Flow != FlowIdle {
			t.Fatalf("expected new session idle, got %s", sess.Flow)
		}
	})

	if store.Len() != 1 {
		t.Fatalf("expected one session, got %d", store.Len())
	}

	// Same user returns the same session.
	store.With(42, func(sess *Session) {
		sess.Flow = FlowAwaitingAmount
	})
	store.With(42, func(sess *Session) {
		if sess.Flow != FlowAwaitingAmount {
			t.Fatalf("expected state to persist, got %s", sess.Flow)
		}
	})
	if store.Len() != 1 {
		t.Fatalf("expected one session, got %d", store.Len())
	}
}

func TestSessionStoreSweep(t *testing.T) {
	store := NewSessionStore()
	store.With(1, func(*Session) {})
	store.With(2, func(*Session) {})

	// Age one session past the cutoff.
	store.sessions[1].LastEventAt = time.Now().Add(-2 * time.Hour)

	if n := store.Sweep(time.Hour); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 remaining session, got %d", store.Len())
	}

	// The evicted user starts over from a fresh session.
	store.With(1, func(sess *Session) {
		if sess.Flow != FlowIdle {
			t.Fatalf("expected rebuilt session idle, got %s", sess.Flow)
		}
	})
}

func TestSweepSkipsBusySessions(t *testing.T) {
	store := NewSessionStore()
	store.With(1, func(*Session) {})
	sess := store.sessions[1]
	sess.LastEventAt = time.Now().Add(-2 * time.Hour)

	// A held session lock means an event is mid-flight; Sweep must neither
	// block on it nor evict it.
	sess.mu.Lock()
	done := make(chan int, 1)
	go func() { done <- store.Sweep(time.Hour) }()
	select {
	case n := <-done:
		if n != 0 {
			t.Fatalf("expected busy session skipped, evicted %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Sweep blocked on a busy session")
	}
	sess.mu.Unlock()

	if n := store.Sweep(time.Hour); n != 1 {
		t.Fatalf("expected eviction once released, got %d", n)
	}
}

func TestSessionStoreWithRefreshesActivity(t *testing.T) {
	store := NewSessionStore()
	store.With(7, func(*Session) {})
	store.sessions[7].LastEventAt = time.Now().Add(-2 * time.Hour)

	// Touching the session keeps it alive across the next sweep.
	store.With(7, func(*Session) {})
	if n := store.Sweep(time.Hour); n != 0 {
		t.Fatalf("expected no evictions after refresh, got %d", n)
	}
}
