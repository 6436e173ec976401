package presence

import (
	"context"
	"errors"
	"log"
	"time"

	"kidspresence/internal/bus"
	"kidspresence/internal/queue"
)

// GuardianGateway validates and submits check-in/check-out requests on
// behalf of guardians. A per-child in-flight marker collapses rapid duplicate
// submissions into one outcome before the store is ever queried.
type GuardianGateway struct {
	store    Store
	sessions *SessionManager
	signals  *bus.Bus
	jobs     queue.Queue
	inflight *inflightSet
}

// NewGuardianGateway wires the gateway. signals and jobs may be nil.
func NewGuardianGateway(store Store, sessions *SessionManager, signals *bus.Bus, jobs queue.Queue) *GuardianGateway {
	return &GuardianGateway{
		store:    store,
		sessions: sessions,
		signals:  signals,
		jobs:     jobs,
		inflight: newInflightSet(),
	}
}

// RequestCheckin creates a pending checkin record for the child.
func (g *GuardianGateway) RequestCheckin(ctx context.Context, childID, guardianID string) (rec Record, err error) {
	defer func() { guardianRequests.WithLabelValues("checkin", result(err)).Inc() }()

	if childID == "" {
		return Record{}, &ValidationError{Field: "child"}
	}
	if guardianID == "" {
		return Record{}, &ValidationError{Field: "guardian"}
	}
	if !g.inflight.acquire(childID) {
		return Record{}, conflict(ReasonAlreadyActive)
	}
	defer g.inflight.release(childID)

	current, err := g.store.ActiveForChild(ctx, childID)
	if err != nil {
		return Record{}, transport("active lookup", err)
	}
	if _, err = Transition(current, ActionRequestCheckin, Actor{ID: guardianID, Role: RoleGuardian}); err != nil {
		return Record{}, err
	}

	sessionID, err := g.sessions.EnsureOpenSession(ctx, time.Now())
	if err != nil {
		return Record{}, err
	}

	rec, err = g.store.InsertRecord(ctx, Record{
		ChildID:     childID,
		SessionID:   sessionID,
		RequestedBy: guardianID,
		Status:      StatusPending,
	})
	if err != nil {
		return Record{}, transport("record insert", err)
	}
	g.notify("checkin-requested", rec, guardianID)
	return rec, nil
}

// RequestCheckout flips the child's approved record back to pending,
// leaving ApprovedAt untouched so staff see it as a checkout request.
func (g *GuardianGateway) RequestCheckout(ctx context.Context, childID, guardianID string) (rec Record, err error) {
	defer func() { guardianRequests.WithLabelValues("checkout", result(err)).Inc() }()

	if childID == "" {
		return Record{}, &ValidationError{Field: "child"}
	}
	if guardianID == "" {
		return Record{}, &ValidationError{Field: "guardian"}
	}
	if !g.inflight.acquire(childID) {
		return Record{}, conflict(ReasonAlreadyActive)
	}
	defer g.inflight.release(childID)

	current, err := g.store.ActiveForChild(ctx, childID)
	if err != nil {
		return Record{}, transport("active lookup", err)
	}
	decision, err := Transition(current, ActionRequestCheckout, Actor{ID: guardianID, Role: RoleGuardian})
	if err != nil {
		return Record{}, err
	}

	rec, err = g.store.UpdateRecord(ctx, Mutation{
		ID:               current.ID,
		Expect:           StatusApproved,
		ExpectApprovedAt: boolPtr(true),
		NewStatus:        decision.NewStatus,
	})
	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			return Record{}, err
		}
		return Record{}, transport("record update", err)
	}
	g.notify("checkout-requested", rec, guardianID)
	return rec, nil
}

// CancelRequest withdraws a pending request. A checkin cancel deletes the
// record; a checkout cancel reverts the child to present so the checkin
// history survives. Only the requesting guardian may cancel.
func (g *GuardianGateway) CancelRequest(ctx context.Context, recordID, guardianID string) (err error) {
	defer func() { guardianRequests.WithLabelValues("cancel", result(err)).Inc() }()

	if recordID == "" {
		return &ValidationError{Field: "record"}
	}
	rec, err := g.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return transport("record lookup", err)
	}

	decision, err := Transition(&rec, ActionCancel, Actor{ID: guardianID, Role: RoleGuardian})
	if err != nil {
		return err
	}

	if decision.Delete {
		if err := g.store.DeleteRecord(ctx, rec.ID, StatusPending); err != nil {
			if errors.Is(err, ErrStaleWrite) {
				return err
			}
			return transport("record delete", err)
		}
	} else {
		_, err := g.store.UpdateRecord(ctx, Mutation{
			ID:               rec.ID,
			Expect:           StatusPending,
			ExpectApprovedAt: boolPtr(true),
			NewStatus:        decision.NewStatus,
		})
		if err != nil {
			if errors.Is(err, ErrStaleWrite) {
				return err
			}
			return transport("record update", err)
		}
	}
	g.notify("request-cancelled", rec, guardianID)
	return nil
}

func (g *GuardianGateway) notify(kind string, rec Record, actor string) {
	if g.signals != nil {
		g.signals.Publish(bus.KidsUpdated)
	}
	if g.jobs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.jobs.Publish(ctx, queue.Job{Kind: kind, RecordID: rec.ID, ChildID: rec.ChildID, Actor: actor}); err != nil {
			log.Printf("job publish failed: %v", err)
		}
	}
}
