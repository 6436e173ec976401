package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kidspresence/internal/feed"
)

// MemStore is an in-process Store used by tests and the memory backend.
// A mutex stands in for the authoritative store's per-row atomicity.
type MemStore struct {
	mu       sync.Mutex
	records  map[string]Record
	sessions map[string]Session
	feed     feed.Feed
}

// NewMemStore creates an empty store publishing changes to f.
func NewMemStore(f feed.Feed) *MemStore {
	return &MemStore{
		records:  make(map[string]Record),
		sessions: make(map[string]Session),
		feed:     f,
	}
}

func (s *MemStore) publish(ctx context.Context, typ feed.EventType, key string, rec *Record) {
	if s.feed == nil {
		return
	}
	evt := feed.Event{Type: typ, Table: TableCheckins, Key: key}
	if typ == feed.EventUpdate && rec != nil {
		if raw, err := json.Marshal(rec); err == nil {
			evt.Payload = raw
		}
	}
	_ = s.feed.Publish(ctx, evt)
}

// ActiveForChild returns the child's active record, or nil when absent.
func (s *MemStore) ActiveForChild(ctx context.Context, childID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ChildID == childID && rec.Active() {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

// GetRecord returns a record by id.
func (s *MemStore) GetRecord(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// InsertRecord stores a new record, assigning id and timestamp when missing.
func (s *MemStore) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	s.publish(ctx, feed.EventInsert, rec.ID, nil)
	return rec, nil
}

// UpdateRecord applies a guarded mutation atomically.
func (s *MemStore) UpdateRecord(ctx context.Context, m Mutation) (Record, error) {
	s.mu.Lock()
	rec, ok := s.records[m.ID]
	if !ok || rec.Status != m.Expect || !approvedAtMatches(rec, m.ExpectApprovedAt) {
		s.mu.Unlock()
		return Record{}, ErrStaleWrite
	}
	rec.Status = m.NewStatus
	now := time.Now().UTC()
	if m.SetApprovedAt {
		rec.ApprovedAt = &now
	}
	if m.ApprovedBy != nil {
		rec.ApprovedBy = m.ApprovedBy
	}
	if m.SetReleasedAt {
		rec.ReleasedAt = &now
	}
	if m.ReleasedBy != nil {
		rec.ReleasedBy = m.ReleasedBy
	}
	s.records[m.ID] = rec
	s.mu.Unlock()
	s.publish(ctx, feed.EventUpdate, rec.ID, &rec)
	return rec, nil
}

// DeleteRecord removes a record still in the expected status.
func (s *MemStore) DeleteRecord(ctx context.Context, id string, expect Status) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok || rec.Status != expect {
		s.mu.Unlock()
		return ErrStaleWrite
	}
	delete(s.records, id)
	s.mu.Unlock()
	s.publish(ctx, feed.EventDelete, id, nil)
	return nil
}

// ListPending returns pending records ordered by RequestedAt ascending.
func (s *MemStore) ListPending(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// ListActive returns all pending and approved records.
func (s *MemStore) ListActive(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Active() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// OpenSessionOn returns the open session started on day's date, if any.
func (s *MemStore) OpenSessionOn(ctx context.Context, day time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openOnLocked(day), nil
}

func (s *MemStore) openOnLocked(day time.Time) *Session {
	y, m, d := day.UTC().Date()
	for _, sess := range s.sessions {
		sy, sm, sd := sess.StartedAt.UTC().Date()
		if sess.Status == SessionOpen && sy == y && sm == m && sd == d {
			out := sess
			return &out
		}
	}
	return nil
}

// CreateSession inserts a session, enforcing one open session per day.
func (s *MemStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Status == SessionOpen && s.openOnLocked(sess.StartedAt) != nil {
		return Session{}, ErrDuplicate
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func approvedAtMatches(rec Record, expect *bool) bool {
	if expect == nil {
		return true
	}
	return (rec.ApprovedAt != nil) == *expect
}
