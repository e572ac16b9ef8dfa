// Package lock implements the processing-lock protocol that serializes human
// review of a shared request row: at most one reviewer holds a request at a
// time, and the lock names the dialog it belongs to.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reviewdesk/logging"
)

// Store is the persistence contract. Acquire and Release must each be one
// atomic conditional write.
type Store interface {
	Acquire(ctx context.Context, requestID, holderID string, modal ModalType) (State, error)
	Release(ctx context.Context, requestID, holderID string) (ReleaseOutcome, error)
	ForceRelease(ctx context.Context, requestID string) (State, error)
	ReleaseStale(ctx context.Context, cutoff time.Time, limit int) ([]Held, error)
	Get(ctx context.Context, requestID string) (State, error)
}

type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logging.OrDefault(logger).With("component", "lock"),
		now:    time.Now,
	}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Acquire takes the lock for holderID on behalf of the given modal. It fails
// with a *LockedError (matching ErrAlreadyLocked) when someone already holds
// it, and makes no mutation in that case.
func (m *Manager) Acquire(ctx context.Context, requestID, holderID string, modal ModalType) (State, error) {
	if requestID == "" {
		return State{}, ErrNotFound
	}
	if holderID == "" {
		return State{}, ErrMissingHolder
	}
	if !modal.Valid() {
		return State{}, fmt.Errorf("%w: %q", ErrInvalidModal, modal)
	}

	st, err := m.store.Acquire(ctx, requestID, holderID, modal)
	if err != nil {
		var locked *LockedError
		if errors.As(err, &locked) {
			m.logger.Info("lock contended",
				"request_id", requestID,
				"holder_id", holderID,
				"current_holder", locked.Holder,
				"current_modal", locked.ModalType)
		}
		return State{}, err
	}

	m.logger.Debug("lock acquired", "request_id", requestID, "holder_id", holderID, "modal_type", modal)
	return st, nil
}

// Release returns the lock to idle if holderID still owns it. Releasing an
// idle lock is a no-op, and so is releasing someone else's lock: a delayed
// duplicate release must not clobber a newer holder.
func (m *Manager) Release(ctx context.Context, requestID, holderID string) error {
	if requestID == "" {
		return ErrNotFound
	}
	if holderID == "" {
		return ErrMissingHolder
	}

	outcome, err := m.store.Release(ctx, requestID, holderID)
	if err != nil {
		return err
	}
	switch outcome {
	case HolderMismatch:
		m.logger.Warn("release ignored: lock held by another reviewer", "request_id", requestID, "holder_id", holderID)
	case Released:
		m.logger.Debug("lock released", "request_id", requestID, "holder_id", holderID)
	}
	return nil
}

// ForceRelease clears a lock unconditionally. Used for stale locks left by a
// crashed client and by administrators.
func (m *Manager) ForceRelease(ctx context.Context, requestID string) error {
	if requestID == "" {
		return ErrNotFound
	}
	prev, err := m.store.ForceRelease(ctx, requestID)
	if err != nil {
		return err
	}
	if prev.Locked() {
		m.logger.Warn("lock force released",
			"request_id", requestID,
			"previous_holder", prev.Holder(),
			"previous_modal", prev.ModalType)
	}
	return nil
}

// ReleaseStale force-releases locks held longer than maxAge.
func (m *Manager) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("lock: stale age must be positive")
	}
	released, err := m.store.ReleaseStale(ctx, m.now().Add(-maxAge), 100)
	if err != nil {
		return 0, err
	}
	for _, h := range released {
		m.logger.Warn("stale lock released",
			"request_id", h.RequestID,
			"previous_holder", h.Holder,
			"previous_modal", h.ModalType,
			"held_since", h.StartedAt)
	}
	return len(released), nil
}

// State returns the persisted lock state for a request.
func (m *Manager) State(ctx context.Context, requestID string) (State, error) {
	return m.store.Get(ctx, requestID)
}
