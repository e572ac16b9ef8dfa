// Package activity records who did what to which request. Entries are
// appended inside the business transaction that caused them.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one row of the activity log.
type Entry struct {
	ID        int64
	RequestID *string
	ActorID   *string
	Action    string
	Payload   map[string]any
	CreatedAt time.Time
}

type Filters struct {
	RequestID string
	ActorID   string
	Action    string
	Since     *time.Time
	Limit     int
}

// Writer appends entries on the caller's transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Append(ctx context.Context, tx pgx.Tx, requestID, actorID, action string, payload map[string]any) error {
	if action == "" {
		return fmt.Errorf("activity: action required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("activity: marshal payload: %w", err)
	}

	const q = `
INSERT INTO activity_logs (request_id, actor_id, action, payload)
VALUES ($1::uuid, $2::uuid, $3, $4::jsonb)
`
	if _, err := tx.Exec(ctx, q, nullable(requestID), nullable(actorID), action, body); err != nil {
		return fmt.Errorf("activity: insert: %w", err)
	}
	return nil
}

// Repository reads the log for the audit viewer.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, filters Filters) ([]Entry, error) {
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.RequestID != "" {
		where = append(where, fmt.Sprintf("request_id = $%d::uuid", len(args)+1))
		args = append(args, filters.RequestID)
	}
	if filters.ActorID != "" {
		where = append(where, fmt.Sprintf("actor_id = $%d::uuid", len(args)+1))
		args = append(args, filters.ActorID)
	}
	if filters.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filters.Action)
	}
	if filters.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filters.Since)
	}
	args = append(args, filters.Limit)

	query := fmt.Sprintf(`
		SELECT id, request_id::text, actor_id::text, action, payload, created_at
		FROM activity_logs
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("activity: list: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, filters.Limit)
	for rows.Next() {
		var (
			e    Entry
			body []byte
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorID, &e.Action, &body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("activity: scan: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &e.Payload); err != nil {
				return nil, fmt.Errorf("activity: decode payload: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity: iterate: %w", err)
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
