package lock

import "time"

// Status is the occupancy of a request's processing lock.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in_progress"
)

// ModalType names the review workflow that owns a lock so a reconnecting
// client can reopen the right dialog.
type ModalType string

const (
	ModalNone    ModalType = "none"
	ModalPayment ModalType = "payment_modal"
	ModalProcess ModalType = "process_modal"
	ModalReject  ModalType = "reject_modal"
	ModalApprove ModalType = "approve_modal"
	ModalVerify  ModalType = "verify_modal"
)

// Valid reports whether m is a modal that may own a lock.
func (m ModalType) Valid() bool {
	switch m {
	case ModalPayment, ModalProcess, ModalReject, ModalApprove, ModalVerify:
		return true
	default:
		return false
	}
}

// State mirrors the processing columns of a request row.
type State struct {
	Status      Status     `json:"status"`
	ProcessedBy *string    `json:"processed_by"`
	ModalType   ModalType  `json:"modal_type"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}

// Idle is the state every request starts in and returns to on release.
func Idle() State {
	return State{Status: StatusIdle, ModalType: ModalNone}
}

// Locked reports whether someone is processing the request.
func (s State) Locked() bool {
	return s.Status == StatusInProgress
}

// HeldBy reports whether holderID currently owns the lock.
func (s State) HeldBy(holderID string) bool {
	return s.Locked() && s.ProcessedBy != nil && *s.ProcessedBy == holderID
}

// Holder returns the holder id or "" when idle.
func (s State) Holder() string {
	if s.ProcessedBy == nil {
		return ""
	}
	return *s.ProcessedBy
}

// Consistent checks the row invariant: in_progress carries a holder and a
// modal, idle carries neither.
func (s State) Consistent() bool {
	switch s.Status {
	case StatusIdle:
		return s.ProcessedBy == nil && (s.ModalType == ModalNone || s.ModalType == "")
	case StatusInProgress:
		return s.ProcessedBy != nil && *s.ProcessedBy != "" && s.ModalType.Valid()
	default:
		return false
	}
}

// Held describes a lock returned by the stale sweep.
type Held struct {
	RequestID string
	Holder    string
	ModalType ModalType
	StartedAt time.Time
}

// ReleaseOutcome classifies what a holder-conditional release did.
type ReleaseOutcome int

const (
	Released ReleaseOutcome = iota
	AlreadyIdle
	HolderMismatch
)

func (o ReleaseOutcome) String() string {
	switch o {
	case Released:
		return "released"
	case AlreadyIdle:
		return "already_idle"
	case HolderMismatch:
		return "holder_mismatch"
	default:
		return "unknown"
	}
}
