package presence

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"kidspresence/internal/feed"
)

// Bridge subscribes to the record-store change feed and keeps a local view of
// active records keyed by child id. Update events are the hot path and are
// applied as precise patches; insert and delete events, whose affected child
// cannot always be derived from the payload, trigger a full refetch instead.
// That asymmetry is deliberate: approvals are updates and arrive constantly,
// inserts and deletes are rare.
type Bridge struct {
	store Store
	feed  feed.Feed

	mu   sync.RWMutex
	view map[string]Record
}

// NewBridge creates a bridge over the given store and feed.
func NewBridge(store Store, f feed.Feed) *Bridge {
	return &Bridge{store: store, feed: f, view: make(map[string]Record)}
}

// Run loads the initial view and consumes feed events until ctx is
// cancelled. It blocks; callers run it in its own goroutine.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Refetch(ctx); err != nil {
		return err
	}
	events, err := b.feed.Subscribe(ctx)
	if err != nil {
		return transport("feed subscribe", err)
	}
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			b.apply(ctx, evt)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) apply(ctx context.Context, evt feed.Event) {
	if evt.Table != TableCheckins {
		return
	}
	feedEvents.WithLabelValues(string(evt.Type)).Inc()

	switch evt.Type {
	case feed.EventUpdate:
		var rec Record
		if len(evt.Payload) == 0 || json.Unmarshal(evt.Payload, &rec) != nil || rec.ChildID == "" {
			// Payload unusable; fall back to the slow path.
			if err := b.Refetch(ctx); err != nil {
				log.Printf("bridge refetch failed: %v", err)
			}
			return
		}
		b.mu.Lock()
		if rec.Status == StatusFinalized {
			delete(b.view, rec.ChildID)
		} else {
			b.view[rec.ChildID] = rec
		}
		b.mu.Unlock()
	case feed.EventInsert, feed.EventDelete:
		if err := b.Refetch(ctx); err != nil {
			log.Printf("bridge refetch failed: %v", err)
		}
	}
}

// Refetch replaces the whole view from the authoritative store.
func (b *Bridge) Refetch(ctx context.Context) error {
	records, err := b.store.ListActive(ctx)
	if err != nil {
		return transport("active list", err)
	}
	view := make(map[string]Record, len(records))
	for _, rec := range records {
		view[rec.ChildID] = rec
	}
	b.mu.Lock()
	b.view = view
	b.mu.Unlock()
	return nil
}

// RecordFor returns the child's active record from the local view.
func (b *Bridge) RecordFor(childID string) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.view[childID]
	return rec, ok
}

// Snapshot returns a copy of the local view.
func (b *Bridge) Snapshot() map[string]Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Record, len(b.view))
	for k, v := range b.view {
		out[k] = v
	}
	return out
}
