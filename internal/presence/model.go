package presence

import "time"

// Status is the stored lifecycle state of a presence record.
type Status string

const (
	// StatusPending covers both a checkin awaiting first approval and a
	// checkout awaiting release; the two are told apart by ApprovedAt.
	StatusPending Status = "pending"
	// StatusApproved means the child is present in the supervised area.
	StatusApproved Status = "approved"
	// StatusFinalized is terminal; the record becomes history.
	StatusFinalized Status = "finalized"
)

// TableCheckins is the record-store table presence records live in; feed
// events are filtered to it.
const TableCheckins = "kids_checkins"

// Record is one child's attendance request/approval/release cycle.
type Record struct {
	ID          string     `json:"id"`
	ChildID     string     `json:"child_id"`
	SessionID   string     `json:"session_id"`
	RequestedBy string     `json:"requested_by"`
	Status      Status     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ApprovedBy  *string    `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ReleasedBy  *string    `json:"released_by,omitempty"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

// Active reports whether the record blocks a new checkin for its child.
func (r *Record) Active() bool {
	return r != nil && (r.Status == StatusPending || r.Status == StatusApproved)
}

// Session is a bounded attendance window grouping presence records,
// typically one per day.
type Session struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// ApprovalIntent tags what approving a pending record will do. It is derived
// once when the record is read, from whether ApprovedAt is already set, so
// call sites never re-infer it.
type ApprovalIntent string

const (
	IntentCheckin  ApprovalIntent = "checkin"
	IntentCheckout ApprovalIntent = "checkout"
)

// IntentOf derives the approval intent for a pending record.
func IntentOf(r Record) ApprovalIntent {
	if r.ApprovedAt == nil {
		return IntentCheckin
	}
	return IntentCheckout
}

// PendingRequest is a pending record as surfaced to staff, with its intent
// resolved at read time.
type PendingRequest struct {
	Record Record         `json:"record"`
	Intent ApprovalIntent `json:"intent"`
}
