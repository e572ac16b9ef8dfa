// Package chaos injects the failures a review desk sees in production:
// dropped database connections and reviewers whose sessions die while they
// hold a lock.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reviewdesk/lock"
)

// TerminateRandomBackend now and then kills one backend whose
// application_name is appName. The listener and pool must recover.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appName string, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `
					SELECT pg_terminate_backend(pid) FROM pg_stat_activity
					WHERE datname = current_database() AND application_name = $1 AND pid <> pg_backend_pid()
					ORDER BY random() LIMIT 1`, appName)
			}
		}
	}
}

// Acquirer is the slice of the lock manager a crashing reviewer uses.
type Acquirer interface {
	Acquire(ctx context.Context, requestID, holderID string, modal lock.ModalType) (lock.State, error)
}

// AbandonLocks plays reviewers that open a dialog and vanish without
// releasing. Only the stale sweep can free these rows.
func AbandonLocks(ctx context.Context, locks Acquirer, requestIDs []string, holderID string, stop <-chan struct{}) {
	if len(requestIDs) == 0 {
		return
	}
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			id := requestIDs[rand.Intn(len(requestIDs))]
			_, _ = locks.Acquire(ctx, id, holderID, lock.ModalProcess)
		}
	}
}
