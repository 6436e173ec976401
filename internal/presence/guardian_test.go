package presence

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"kidspresence/internal/feed"
)

func newTestGateways(t *testing.T) (*MemStore, *GuardianGateway, *StaffGateway) {
	t.Helper()
	store := NewMemStore(feed.NewInMemory())
	guardianGW := NewGuardianGateway(store, NewSessionManager(store), nil, nil)
	staffGW := NewStaffGateway(store, nil, nil, 10*time.Millisecond)
	t.Cleanup(staffGW.Close)
	return store, guardianGW, staffGW
}

func TestRequestCheckinCreatesPendingRecord(t *testing.T) {
	_, gw, _ := newTestGateways(t)
	ctx := context.Background()

	rec, err := gw.RequestCheckin(ctx, "ana", "g1")
	if err != nil {
		t.Fatalf("RequestCheckin: %v", err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("status = %s, want pending", rec.Status)
	}
	if rec.ApprovedAt != nil {
		t.Fatal("new checkin must not carry an approval timestamp")
	}
	if rec.SessionID == "" {
		t.Fatal("record not attached to a session")
	}
	if rec.RequestedAt.IsZero() {
		t.Fatal("requested_at not stamped")
	}
}

func TestRequestCheckinRejectsDuplicate(t *testing.T) {
	_, gw, _ := newTestGateways(t)
	ctx := context.Background()

	if _, err := gw.RequestCheckin(ctx, "ana", "g1"); err != nil {
		t.Fatalf("first RequestCheckin: %v", err)
	}
	_, err := gw.RequestCheckin(ctx, "ana", "g1")
	if !IsConflict(err, ReasonAlreadyActive) {
		t.Fatalf("second RequestCheckin: got %v, want already-active", err)
	}
}

func TestRequestCheckoutRequiresApproval(t *testing.T) {
	_, gw, _ := newTestGateways(t)
	ctx := context.Background()

	_, err := gw.RequestCheckout(ctx, "ana", "g1")
	if !IsConflict(err, ReasonNotApproved) {
		t.Fatalf("checkout while absent: got %v, want not-approved", err)
	}

	if _, err := gw.RequestCheckin(ctx, "ana", "g1"); err != nil {
		t.Fatalf("RequestCheckin: %v", err)
	}
	_, err = gw.RequestCheckout(ctx, "ana", "g1")
	if !IsConflict(err, ReasonNotApproved) {
		t.Fatalf("checkout while pending-checkin: got %v, want not-approved", err)
	}
}

func TestRequestCheckinValidation(t *testing.T) {
	_, gw, _ := newTestGateways(t)
	ctx := context.Background()

	var ve *ValidationError
	if _, err := gw.RequestCheckin(ctx, "", "g1"); !errors.As(err, &ve) {
		t.Fatalf("missing child: got %v, want ValidationError", err)
	}
	if _, err := gw.RequestCheckin(ctx, "ana", ""); !errors.As(err, &ve) {
		t.Fatalf("missing guardian: got %v, want ValidationError", err)
	}
}

func TestConcurrentCheckinsCreateOneRecord(t *testing.T) {
	store, gw, _ := newTestGateways(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gw.RequestCheckin(ctx, "bia", "g1")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !IsConflict(err, ReasonAlreadyActive) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful checkins = %d, want exactly 1", ok)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].Status != StatusPending {
		t.Fatalf("active records = %+v, want one pending", active)
	}
}

func TestCancelPendingCheckinDeletesRecord(t *testing.T) {
	store, gw, _ := newTestGateways(t)
	ctx := context.Background()

	rec, err := gw.RequestCheckin(ctx, "caio", "g1")
	if err != nil {
		t.Fatalf("RequestCheckin: %v", err)
	}

	if err := gw.CancelRequest(ctx, rec.ID, "g2"); !IsConflict(err, ReasonNotOwner) {
		t.Fatalf("cancel by non-owner: got %v, want not-owner", err)
	}

	if err := gw.CancelRequest(ctx, rec.ID, "g1"); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	current, err := store.ActiveForChild(ctx, "caio")
	if err != nil {
		t.Fatalf("ActiveForChild: %v", err)
	}
	if current != nil {
		t.Fatalf("active record remains after cancel: %+v", current)
	}

	// A fresh checkin afterward succeeds normally.
	if _, err := gw.RequestCheckin(ctx, "caio", "g1"); err != nil {
		t.Fatalf("checkin after cancel: %v", err)
	}
}

func TestCancelPendingCheckoutRevertsToPresent(t *testing.T) {
	store, gw, staffGW := newTestGateways(t)
	ctx := context.Background()

	rec, err := gw.RequestCheckin(ctx, "ana", "g1")
	if err != nil {
		t.Fatalf("RequestCheckin: %v", err)
	}
	if _, err := staffGW.Approve(ctx, rec.ID, "s1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := gw.RequestCheckout(ctx, "ana", "g1"); err != nil {
		t.Fatalf("RequestCheckout: %v", err)
	}

	if err := gw.CancelRequest(ctx, rec.ID, "g1"); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	current, err := store.ActiveForChild(ctx, "ana")
	if err != nil {
		t.Fatalf("ActiveForChild: %v", err)
	}
	if current == nil || current.Status != StatusApproved {
		t.Fatalf("record after checkout cancel = %+v, want approved", current)
	}
	if current.ApprovedAt == nil {
		t.Fatal("checkin history lost by checkout cancel")
	}
}

// TestActiveInvariantUnderConcurrency fuzzes the gateways with random
// concurrent actions and asserts no child ever holds more than one active
// record, which is the property everything else leans on.
func TestActiveInvariantUnderConcurrency(t *testing.T) {
	store, gw, staffGW := newTestGateways(t)
	ctx := context.Background()

	children := []string{"ana", "bia", "caio", "duda"}
	const workers = 6
	const rounds = 60

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < rounds; i++ {
				child := children[rng.Intn(len(children))]
				switch rng.Intn(4) {
				case 0:
					_, _ = gw.RequestCheckin(ctx, child, "g1")
				case 1:
					_, _ = gw.RequestCheckout(ctx, child, "g1")
				case 2:
					if rec, _ := store.ActiveForChild(ctx, child); rec != nil {
						_, _ = staffGW.Approve(ctx, rec.ID, "s1")
					}
				case 3:
					if rec, _ := store.ActiveForChild(ctx, child); rec != nil {
						_ = gw.CancelRequest(ctx, rec.ID, "g1")
					}
				}

				active, err := store.ListActive(ctx)
				if err != nil {
					t.Errorf("ListActive: %v", err)
					return
				}
				perChild := make(map[string]int)
				for _, rec := range active {
					perChild[rec.ChildID]++
				}
				for id, n := range perChild {
					if n > 1 {
						t.Errorf("child %s has %d active records", id, n)
						return
					}
				}
			}
		}(int64(w) + 1)
	}
	wg.Wait()
}

func TestGuardianInflightMarkerClears(t *testing.T) {
	_, gw, _ := newTestGateways(t)
	ctx := context.Background()

	// A failed request must release the marker so retries are possible.
	if _, err := gw.RequestCheckout(ctx, "ana", "g1"); err == nil {
		t.Fatal("expected checkout to fail")
	}
	if gw.inflight.held("ana") {
		t.Fatal("in-flight marker leaked after failure")
	}
	if _, err := gw.RequestCheckin(ctx, "ana", "g1"); err != nil {
		t.Fatalf("checkin after failed checkout: %v", err)
	}
	if gw.inflight.held("ana") {
		t.Fatal("in-flight marker leaked after success")
	}
}

func TestSessionSharedAcrossCheckins(t *testing.T) {
	_, gw, _ := newTestGateways(t)
	ctx := context.Background()

	var sessions []string
	for i := 0; i < 3; i++ {
		rec, err := gw.RequestCheckin(ctx, fmt.Sprintf("kid-%d", i), "g1")
		if err != nil {
			t.Fatalf("RequestCheckin: %v", err)
		}
		sessions = append(sessions, rec.SessionID)
	}
	if sessions[0] != sessions[1] || sessions[1] != sessions[2] {
		t.Fatalf("checkins spread across sessions: %v", sessions)
	}
}
