package presence

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"kidspresence/internal/bus"
	"kidspresence/internal/queue"
)

const (
	listRetries = 3
	listBackoff = 250 * time.Millisecond
)

// StaffGateway surfaces pending requests to staff and performs approvals.
// It keeps a local pending view that is patched optimistically on approval
// and reconciled against the store shortly after.
type StaffGateway struct {
	store    Store
	signals  *bus.Bus
	jobs     queue.Queue
	inflight *inflightSet

	mu      sync.Mutex
	pending []PendingRequest

	reconciler *Reconciler
}

// NewStaffGateway wires the gateway. signals and jobs may be nil.
func NewStaffGateway(store Store, signals *bus.Bus, jobs queue.Queue, reconcileDelay time.Duration) *StaffGateway {
	g := &StaffGateway{
		store:    store,
		signals:  signals,
		jobs:     jobs,
		inflight: newInflightSet(),
	}
	g.reconciler = NewReconciler(reconcileDelay, g.refetch)
	return g
}

// ListPending fetches all pending requests, deduplicated per child keeping
// only the latest RequestedAt. Older duplicates, should they exist, are
// hidden from staff but never deleted. Transport failures are retried with a
// short backoff; this is a read path, so retrying is safe.
func (g *StaffGateway) ListPending(ctx context.Context) ([]PendingRequest, error) {
	var records []Record
	var err error
	for attempt := 0; attempt < listRetries; attempt++ {
		records, err = g.store.ListPending(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, transport("pending list", ctx.Err())
		}
		time.Sleep(listBackoff * time.Duration(attempt+1))
	}
	if err != nil {
		return nil, transport("pending list", err)
	}

	out := dedupLatest(records)
	g.mu.Lock()
	g.pending = out
	g.mu.Unlock()
	return out, nil
}

// dedupLatest keeps one pending request per child, the most recent one.
func dedupLatest(records []Record) []PendingRequest {
	latest := make(map[string]Record)
	for _, rec := range records {
		if prev, ok := latest[rec.ChildID]; !ok || rec.RequestedAt.After(prev.RequestedAt) {
			latest[rec.ChildID] = rec
		}
	}
	out := make([]PendingRequest, 0, len(latest))
	for _, rec := range records {
		if kept, ok := latest[rec.ChildID]; ok && kept.ID == rec.ID {
			out = append(out, PendingRequest{Record: rec, Intent: IntentOf(rec)})
			delete(latest, rec.ChildID)
		}
	}
	return out
}

// Pending returns the gateway's local pending view without touching the
// store. It reflects optimistic removals made by Approve until the next
// reconcile or ListPending.
func (g *StaffGateway) Pending() []PendingRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingRequest, len(g.pending))
	copy(out, g.pending)
	return out
}

// Approve applies the pending request identified by recordID. The intent is
// derived once from the stored record: no ApprovedAt means this approval
// admits the child; an existing ApprovedAt means it releases the child. A
// second Approve for the same record while one is in flight fails with busy.
// The in-flight marker is local to this process; the status-guarded update is
// what actually stops a cross-device race, surfacing ErrStaleWrite to the
// loser instead of double-finalizing.
func (g *StaffGateway) Approve(ctx context.Context, recordID, staffID string) (rec Record, err error) {
	var intent ApprovalIntent
	defer func() { staffApprovals.WithLabelValues(string(intent), result(err)).Inc() }()

	if recordID == "" {
		return Record{}, &ValidationError{Field: "record"}
	}
	if staffID == "" {
		return Record{}, &ValidationError{Field: "staff"}
	}
	if !g.inflight.acquire(recordID) {
		return Record{}, conflict(ReasonBusy)
	}
	defer g.inflight.release(recordID)

	current, err := g.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, err
		}
		return Record{}, transport("record lookup", err)
	}

	intent = IntentOf(current)
	action := ActionApprove
	if intent == IntentCheckout {
		action = ActionRelease
	}
	decision, err := Transition(&current, action, Actor{ID: staffID, Role: RoleStaff})
	if err != nil {
		return Record{}, err
	}

	m := Mutation{
		ID:               recordID,
		Expect:           StatusPending,
		ExpectApprovedAt: boolPtr(intent == IntentCheckout),
		NewStatus:        decision.NewStatus,
	}
	if decision.SetApprovedAt {
		m.SetApprovedAt = true
		m.ApprovedBy = &staffID
	}
	if decision.SetReleasedAt {
		m.SetReleasedAt = true
		m.ReleasedBy = &staffID
	}

	rec, err = g.store.UpdateRecord(ctx, m)
	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			// Another client changed the record during our round-trip; pull
			// the authoritative list forward so the stale entry disappears.
			g.reconciler.Failed(nil)
			return Record{}, err
		}
		return Record{}, transport("record update", err)
	}

	g.reconciler.Applied(func() { g.removeLocal(recordID) })
	g.notify("approval:"+string(intent), rec, staffID)
	return rec, nil
}

// Close stops the background reconciliation timer.
func (g *StaffGateway) Close() {
	g.reconciler.Stop()
}

func (g *StaffGateway) removeLocal(recordID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.pending[:0]
	for _, req := range g.pending {
		if req.Record.ID != recordID {
			kept = append(kept, req)
		}
	}
	g.pending = kept
}

func (g *StaffGateway) refetch() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := g.ListPending(ctx); err != nil {
		log.Printf("pending reconcile failed: %v", err)
	}
}

func (g *StaffGateway) notify(kind string, rec Record, actor string) {
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
