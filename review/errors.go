package review

import (
	"errors"
	"fmt"

	"reviewdesk/lock"
	"reviewdesk/request"
)

var (
	// ErrAlreadyLocked matches *lock.LockedError.
	ErrAlreadyLocked = lock.ErrAlreadyLocked
	// ErrStoreUnavailable matches transport and storage failures from the
	// lock and request stores.
	ErrStoreUnavailable = lock.ErrStoreUnavailable

	ErrNotFound          = errors.New("review: request not found")
	ErrGuardRejected     = errors.New("review: guard rejected")
	ErrStaleNotification = errors.New("review: stale notification")

	ErrBusy             = errors.New("review: another action is in flight")
	ErrModalOpen        = errors.New("review: a review dialog is already open")
	ErrNoModal          = errors.New("review: no review dialog is open")
	ErrActionNotAllowed = errors.New("review: action not allowed")
	ErrClosed           = errors.New("review: session closed")
)

// GuardError is returned by guards that refuse an action.
type GuardError struct {
	Guard  string
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("review: %s: %s", e.Guard, e.Reason)
}

func (e *GuardError) Unwrap() error {
	return ErrGuardRejected
}

// Reject builds a GuardError.
func Reject(guard, reason string) error {
	return &GuardError{Guard: guard, Reason: reason}
}

// normalize folds the not-found sentinels of the lock and request packages
// into ErrNotFound while keeping the original in the chain.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, lock.ErrNotFound) || errors.Is(err, request.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// Alert turns a controller error into the message shown to the reviewer.
func Alert(err error) string {
	var (
		locked *lock.LockedError
		guard  *GuardError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &locked):
		if locked.Holder == "" {
			return "This request is already being processed."
		}
		return fmt.Sprintf("This request is being processed by %s.", locked.Holder)
	case errors.Is(err, ErrAlreadyLocked), errors.Is(err, request.ErrLockedByOther):
		return "This request is already being processed."
	case errors.Is(err, ErrNotFound):
		return "This request no longer exists. The list has been refreshed."
	case errors.As(err, &guard):
		return fmt.Sprintf("Action blocked: %s.", guard.Reason)
	case errors.Is(err, ErrStoreUnavailable):
		return "The service is temporarily unavailable. Please try again."
	case errors.Is(err, ErrBusy):
		return "Please wait for the current action to finish."
	case errors.Is(err, request.ErrInvalidAmount):
		return "The amount is not valid for this request."
	case errors.Is(err, ErrActionNotAllowed), errors.Is(err, request.ErrInvalidTransition):
		return "This action is not available for the request in its current state."
	default:
		return err.Error()
	}
}
