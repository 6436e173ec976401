package presence

import (
	"errors"
	"fmt"
)

// Reason classifies a rejected transition or a tripped in-flight guard.
type Reason string

const (
	ReasonAlreadyActive Reason = "already-active"
	ReasonNotApproved   Reason = "not-approved"
	ReasonNotPending    Reason = "not-pending"
	ReasonNotOwner      Reason = "not-owner"
	ReasonBusy          Reason = "busy"
)

// ValidationError reports a request rejected before any store call.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s required", e.Field)
}

// ConflictError reports an illegal transition or a duplicate in-flight call.
// It is user-actionable and never retried automatically.
type ConflictError struct {
	Reason Reason
}

func (e *ConflictError) Error() string {
	return "conflict: " + string(e.Reason)
}

// Is lets callers match on a bare reason via errors.Is.
func (e *ConflictError) Is(target error) bool {
	var other *ConflictError
	if errors.As(target, &other) {
		return other.Reason == e.Reason
	}
	return false
}

// ErrStaleWrite means a status-guarded update matched zero rows: the local
// view was out of date. The correct response is a refetch, not a retry.
var ErrStaleWrite = errors.New("stale write: record no longer in expected state")

// ErrNotFound is returned by store lookups for missing rows.
var ErrNotFound = errors.New("not found")

// TransportError wraps a store or feed failure. Read paths may retry it;
// write paths surface it to the caller, who decides.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func conflict(reason Reason) error { return &ConflictError{Reason: reason} }

func transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// IsConflict reports whether err is a conflict with the given reason.
func IsConflict(err error, reason Reason) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Reason == reason
}
