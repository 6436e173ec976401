package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"kidspresence/internal/feed"
)

func TestEnsureOpenSessionCreatesOnce(t *testing.T) {
	store := NewMemStore(feed.NewInMemory())
	mgr := NewSessionManager(store)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	first, err := mgr.EnsureOpenSession(ctx, now)
	if err != nil {
		t.Fatalf("EnsureOpenSession: %v", err)
	}
	second, err := mgr.EnsureOpenSession(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("EnsureOpenSession again: %v", err)
	}
	if first != second {
		t.Fatalf("sessions diverge on the same day: %s vs %s", first, second)
	}

	nextDay, err := mgr.EnsureOpenSession(ctx, now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("EnsureOpenSession next day: %v", err)
	}
	if nextDay == first {
		t.Fatal("next day reused the previous session")
	}
}

func TestEnsureOpenSessionConvergesUnderRace(t *testing.T) {
	store := NewMemStore(feed.NewInMemory())
	mgr := NewSessionManager(store)
	ctx := context.Background()
	now := time.Now().UTC()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := mgr.EnsureOpenSession(ctx, now)
			if err != nil {
				t.Errorf("EnsureOpenSession: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("callers diverged: %v", ids)
		}
	}
}

func TestCreateSessionRejectsSecondOpenSameDay(t *testing.T) {
	store := NewMemStore(feed.NewInMemory())
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.CreateSession(ctx, Session{Name: "a", Status: SessionOpen, StartedAt: now}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := store.CreateSession(ctx, Session{Name: "b", Status: SessionOpen, StartedAt: now}); err != ErrDuplicate {
		t.Fatalf("duplicate open session: got %v, want ErrDuplicate", err)
	}
	// A closed session the same day is history, not a conflict.
	if _, err := store.CreateSession(ctx, Session{Name: "c", Status: SessionClosed, StartedAt: now}); err != nil {
		t.Fatalf("closed session insert: %v", err)
	}
}
