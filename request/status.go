package request

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"reviewdesk/lock"
)

// Action is a business mutation a reviewer can submit.
type Action string

const (
	ActionApprove Action = "approve"
	ActionVerify  Action = "verify"
	ActionPay     Action = "pay"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionReject  Action = "reject"
	ActionResolve Action = "resolve"
)

var (
	ErrInvalidTransition = errors.New("request: invalid status transition")
	ErrUnknownAction     = errors.New("request: unknown action")
	ErrInvalidAmount     = errors.New("request: invalid payment amount")
)

// Modal returns the dialog that owns the lock while this action is reviewed.
func (a Action) Modal() lock.ModalType {
	switch a {
	case ActionApprove:
		return lock.ModalApprove
	case ActionVerify:
		return lock.ModalVerify
	case ActionPay:
		return lock.ModalPayment
	case ActionPause, ActionResume, ActionResolve:
		return lock.ModalProcess
	case ActionReject:
		return lock.ModalReject
	default:
		return lock.ModalNone
	}
}

// from lists the statuses each action may start from, per kind.
var from = map[Kind]map[Action][]Status{
	KindRedeem: {
		ActionApprove: {StatusPending},
		ActionVerify:  {StatusVerificationPending},
		ActionPay:     {StatusQueued, StatusQueuedPartiallyPaid},
		ActionPause:   {StatusQueued, StatusQueuedPartiallyPaid},
		ActionResume:  {StatusPaused},
		ActionReject:  {StatusPending, StatusVerificationPending, StatusQueued, StatusQueuedPartiallyPaid, StatusPaused},
	},
	KindDisputed: {
		ActionResolve: {StatusDisputed},
		ActionReject:  {StatusDisputed},
	},
}

// CanApply reports whether action is allowed on a request in status.
func CanApply(kind Kind, action Action, status Status) bool {
	for _, s := range from[kind][action] {
		if s == status {
			return true
		}
	}
	return false
}

// Outcome is the business state an action produces.
type Outcome struct {
	Status     Status
	PaidAmount decimal.Decimal
}

// Next computes the state after applying p to req.
func Next(req Request, p ActionParams) (Outcome, error) {
	if p.Action.Modal() == lock.ModalNone {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, p.Action)
	}
	if !CanApply(req.Kind, p.Action, req.Status) {
		return Outcome{}, fmt.Errorf("%w: %s %s from %s", ErrInvalidTransition, req.Kind, p.Action, req.Status)
	}

	out := Outcome{PaidAmount: req.PaidAmount}
	switch p.Action {
	case ActionApprove:
		out.Status = StatusVerificationPending
	case ActionVerify:
		out.Status = StatusQueued
	case ActionPay:
		if !p.Amount.IsPositive() || p.Amount.GreaterThan(req.Remaining()) {
			return Outcome{}, fmt.Errorf("%w: %s against remaining %s", ErrInvalidAmount, p.Amount.StringFixed(2), req.Remaining().StringFixed(2))
		}
		out.PaidAmount = req.PaidAmount.Add(p.Amount)
		if out.PaidAmount.GreaterThanOrEqual(req.Amount) {
			out.Status = StatusCompleted
		} else {
			out.Status = StatusQueuedPartiallyPaid
		}
	case ActionPause:
		out.Status = StatusPaused
	case ActionResume:
		out.Status = StatusQueued
		if req.PaidAmount.IsPositive() {
			out.Status = StatusQueuedPartiallyPaid
		}
	case ActionReject:
		out.Status = StatusRejected
		if req.Status == StatusVerificationPending {
			out.Status = StatusVerificationFailed
		}
	case ActionResolve:
		out.Status = StatusResolved
	}
	return out, nil
}

// InitialStatus is where intake places a new request.
func InitialStatus(kind Kind) Status {
	if kind == KindDisputed {
		return StatusDisputed
	}
	return StatusPending
}
