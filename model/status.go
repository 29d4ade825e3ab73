package model

// Status is the lifecycle state of a checkpoint.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusModified  Status = "MODIFIED"
	StatusEscalated Status = "ESCALATED"
	StatusExpired   Status = "EXPIRED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusModified, StatusEscalated, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s.IsValid() && s != StatusPending
}

// IsResolution reports whether s may be requested by a resolve call.
// EXPIRED is reserved for the expiry timer.
func (s Status) IsResolution() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusModified, StatusEscalated:
		return true
	}
	return false
}

// CanTransition is the checkpoint state machine: PENDING moves to any
// terminal state exactly once, terminal states never move.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.IsTerminal()
}
