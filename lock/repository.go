package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores processing locks as columns on the requests table.
// Every mutation is a single conditional statement so the check and the set
// can never be split across round trips.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// checkIDs rejects ids the uuid columns could never match, so a malformed
// holder is not reported as a missing request.
func checkIDs(requestID, holderID string) error {
	if _, err := uuid.Parse(requestID); err != nil {
		return ErrNotFound
	}
	if _, err := uuid.Parse(holderID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidHolder, holderID)
	}
	return nil
}

// Acquire flips an idle lock to in_progress. When the row is not idle the
// update matches nothing and the current holder is read back for the error.
func (r *PGRepository) Acquire(ctx context.Context, requestID, holderID string, modal ModalType) (State, error) {
	const query = `
		UPDATE requests
		SET processing_status = 'in_progress',
		    processed_by = $2::uuid,
		    modal_type = $3::modal_type,
		    processing_started_at = now(),
		    updated_at = now()
		WHERE id = $1 AND processing_status = 'idle'
		RETURNING processing_status::text, processed_by::text, modal_type::text, processing_started_at
	`
	if err := checkIDs(requestID, holderID); err != nil {
		return State{}, err
	}

	st, err := scanState(r.pool.QueryRow(ctx, query, requestID, holderID, modal))
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return State{}, storeError("acquire", err)
	}

	current, err := r.Get(ctx, requestID)
	if err != nil {
		return State{}, err
	}
	return State{}, &LockedError{RequestID: requestID, Holder: current.Holder(), ModalType: current.ModalType}
}

// Release resets the lock only when holderID still owns it.
func (r *PGRepository) Release(ctx context.Context, requestID, holderID string) (ReleaseOutcome, error) {
	const query = `
		UPDATE requests
		SET processing_status = 'idle',
		    processed_by = NULL,
		    modal_type = 'none',
		    processing_started_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND processing_status = 'in_progress'
		  AND processed_by = $2::uuid
		RETURNING id
	`
	if err := checkIDs(requestID, holderID); err != nil {
		return 0, err
	}

	var id string
	err := r.pool.QueryRow(ctx, query, requestID, holderID).Scan(&id)
	if err == nil {
		return Released, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, storeError("release", err)
	}

	current, err := r.Get(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if !current.Locked() {
		return AlreadyIdle, nil
	}
	return HolderMismatch, nil
}

// ForceRelease resets the lock regardless of holder and returns the state it
// replaced.
func (r *PGRepository) ForceRelease(ctx context.Context, requestID string) (State, error) {
	const query = `
		WITH prev AS (
			SELECT id, processing_status, processed_by, modal_type, processing_started_at
			FROM requests
			WHERE id = $1
			FOR UPDATE
		)
		UPDATE requests r
		SET processing_status = 'idle',
		    processed_by = NULL,
		    modal_type = 'none',
		    processing_started_at = NULL,
		    updated_at = CASE WHEN prev.processing_status = 'idle' THEN r.updated_at ELSE now() END
		FROM prev
		WHERE r.id = prev.id
		RETURNING prev.processing_status::text, prev.processed_by::text, prev.modal_type::text, prev.processing_started_at
	`

	st, err := scanState(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, storeError("force release", err)
	}
	return st, nil
}

// ReleaseStale force-releases every lock acquired before cutoff. Rows locked by
// a concurrent transaction are skipped and picked up on the next sweep.
func (r *PGRepository) ReleaseStale(ctx context.Context, cutoff time.Time, limit int) ([]Held, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `
		WITH stale AS (
			SELECT id, processed_by, modal_type, processing_started_at
			FROM requests
			WHERE processing_status = 'in_progress'
			  AND processing_started_at < $1
			ORDER BY processing_started_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE requests r
		SET processing_status = 'idle',
		    processed_by = NULL,
		    modal_type = 'none',
		    processing_started_at = NULL,
		    updated_at = now()
		FROM stale
		WHERE r.id = stale.id
		RETURNING r.id::text, stale.processed_by::text, stale.modal_type::text, stale.processing_started_at
	`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, storeError("release stale", err)
	}
	defer rows.Close()

	out := make([]Held, 0, 8)
	for rows.Next() {
		var h Held
		var modal string
		if err := rows.Scan(&h.RequestID, &h.Holder, &modal, &h.StartedAt); err != nil {
			return nil, storeError("scan stale", err)
		}
		h.ModalType = ModalType(modal)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate stale", err)
	}
	return out, nil
}

// Get reads the current lock state.
func (r *PGRepository) Get(ctx context.Context, requestID string) (State, error) {
	const query = `
		SELECT processing_status::text, processed_by::text, modal_type::text, processing_started_at
		FROM requests
		WHERE id = $1
	`
	st, err := scanState(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, storeError("get", err)
	}
	return st, nil
}

func scanState(row pgx.Row) (State, error) {
	var (
		status    string
		holder    *string
		modal     string
		startedAt *time.Time
	)
	if err := row.Scan(&status, &holder, &modal, &startedAt); err != nil {
		return State{}, err
	}
	return State{
		Status:      Status(status),
		ProcessedBy: holder,
		ModalType:   ModalType(modal),
		StartedAt:   startedAt,
	}, nil
}
