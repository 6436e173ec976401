package presence

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by CreateSession when another writer already
// opened a session for the same day. Callers re-query and adopt the winner.
var ErrDuplicate = errors.New("duplicate")

// Mutation describes one status-guarded update to a record. The guard fields
// pin down the state the caller observed; an update that matches zero rows
// fails with ErrStaleWrite instead of silently succeeding.
type Mutation struct {
	ID     string
	Expect Status
	// ExpectApprovedAt, when non-nil, additionally requires ApprovedAt to be
	// set (true) or empty (false). This is what keeps two concurrent
	// approvals of the same record from both applying.
	ExpectApprovedAt *bool

	NewStatus     Status
	ApprovedBy    *string
	SetApprovedAt bool
	ReleasedBy    *string
	SetReleasedAt bool
}

// Store is the record-store contract the core consumes. The authoritative
// backend linearizes writes; per-row atomicity is the only ordering guarantee
// the rest of the package assumes. Every successful mutation is echoed on the
// change feed.
type Store interface {
	// ActiveForChild returns the child's active record, or nil when absent.
	ActiveForChild(ctx context.Context, childID string) (*Record, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	// UpdateRecord applies m and returns the updated row; ErrStaleWrite when
	// the guard matched nothing.
	UpdateRecord(ctx context.Context, m Mutation) (Record, error)
	// DeleteRecord removes the record if it still has the expected status.
	DeleteRecord(ctx context.Context, id string, expect Status) error
	// ListPending returns all pending records ordered by RequestedAt.
	ListPending(ctx context.Context) ([]Record, error)
	// ListActive returns every record with status pending or approved.
	ListActive(ctx context.Context) ([]Record, error)

	// OpenSessionOn returns the open session whose start falls on day's
	// date, or nil when there is none.
	OpenSessionOn(ctx context.Context, day time.Time) (*Session, error)
	CreateSession(ctx context.Context, s Session) (Session, error)
}

func boolPtr(b bool) *bool { return &b }
