package presence

// Action is a requested change to a child's presence.
type Action string

const (
	ActionRequestCheckin  Action = "request-checkin"
	ActionRequestCheckout Action = "request-checkout"
	ActionApprove         Action = "approve"
	ActionRelease         Action = "release"
	ActionCancel          Action = "cancel"
)

// Role identifies the kind of actor driving a transition.
type Role string

const (
	RoleGuardian Role = "guardian"
	RoleStaff    Role = "staff"
)

// Actor is whoever requests a transition.
type Actor struct {
	ID   string
	Role Role
}

// Decision is the outcome of a legal transition. Both gateways translate it
// into exactly one store mutation.
type Decision struct {
	// NewStatus is the status to write. Meaningless when Delete is set.
	NewStatus Status
	// Delete means the record is removed instead of updated (cancel of a
	// checkin request that was never approved).
	Delete bool
	// SetApprovedAt / SetReleasedAt mark which timestamp the mutation stamps.
	SetApprovedAt bool
	SetReleasedAt bool
}

// Transition decides whether action by actor is legal given the child's
// current active record (nil when the child is absent). It has no side
// effects; both gateways must consult it before touching the store so they
// enforce identical rules.
func Transition(current *Record, action Action, actor Actor) (Decision, error) {
	switch action {
	case ActionRequestCheckin:
		if current.Active() {
			return Decision{}, conflict(ReasonAlreadyActive)
		}
		return Decision{NewStatus: StatusPending}, nil

	case ActionRequestCheckout:
		if current == nil || current.Status != StatusApproved {
			return Decision{}, conflict(ReasonNotApproved)
		}
		// ApprovedAt stays as stamped by the first approval; its presence
		// is what marks the resulting pending record as a checkout.
		return Decision{NewStatus: StatusPending}, nil

	case ActionApprove:
		if actor.Role != RoleStaff {
			return Decision{}, conflict(ReasonNotOwner)
		}
		if current == nil || current.Status != StatusPending || current.ApprovedAt != nil {
			return Decision{}, conflict(ReasonNotPending)
		}
		return Decision{NewStatus: StatusApproved, SetApprovedAt: true}, nil

	case ActionRelease:
		if actor.Role != RoleStaff {
			return Decision{}, conflict(ReasonNotOwner)
		}
		if current == nil || current.Status != StatusPending || current.ApprovedAt == nil {
			return Decision{}, conflict(ReasonNotPending)
		}
		return Decision{NewStatus: StatusFinalized, SetReleasedAt: true}, nil

	case ActionCancel:
		if current == nil || current.Status != StatusPending {
			return Decision{}, conflict(ReasonNotPending)
		}
		if actor.Role != RoleGuardian || actor.ID != current.RequestedBy {
			return Decision{}, conflict(ReasonNotOwner)
		}
		if current.ApprovedAt == nil {
			// Checkin never approved: the record carries no history worth
			// keeping, so cancelling removes it and the child is absent.
			return Decision{Delete: true}, nil
		}
		// Cancelling a checkout request reverts the child to present,
		// keeping the checkin history intact.
		return Decision{NewStatus: StatusApproved}, nil
	}
	return Decision{}, conflict(ReasonNotPending)
}
