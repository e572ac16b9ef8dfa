package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAlreadyLocked is returned when Acquire observes an in_progress lock.
	ErrAlreadyLocked = errors.New("lock: request is already being processed")
	// ErrNotFound is returned when the request row does not exist.
	ErrNotFound = errors.New("lock: request not found")
	// ErrStoreUnavailable wraps transport and storage failures.
	ErrStoreUnavailable = errors.New("lock: store unavailable")
	// ErrInvalidModal is returned for modal types that cannot own a lock.
	ErrInvalidModal = errors.New("lock: invalid modal type")
	// ErrMissingHolder is returned when a holder id is required but empty.
	ErrMissingHolder = errors.New("lock: holder id required")
	// ErrInvalidHolder is returned when a holder id is not a staff uuid.
	ErrInvalidHolder = errors.New("lock: invalid holder id")
)

// LockedError reports who holds a contended lock. It matches ErrAlreadyLocked
// under errors.Is.
type LockedError struct {
	RequestID string
	Holder    string
	ModalType ModalType
}

func (e *LockedError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("lock: request %s is already being processed", e.RequestID)
	}
	return fmt.Sprintf("lock: request %s is being processed by %s (%s)", e.RequestID, e.Holder, e.ModalType)
}

func (e *LockedError) Unwrap() error {
	return ErrAlreadyLocked
}

// storeError tags anything that is not a server-side SQL error as a store
// outage. SQL errors carry their own meaning and are wrapped as-is.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("lock: %s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "22P02" {
			// holders are checked before the query, so only the request id
			// can be malformed here
			return ErrNotFound
		}
		return fmt.Errorf("lock: %s: %w", op, err)
	}
	return fmt.Errorf("lock: %s: %w: %w", op, ErrStoreUnavailable, err)
}
