package cashtag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the requested cashtag does not exist.
	ErrNotFound = errors.New("cashtag: not found")
	// ErrDuplicateHandle signals another cashtag already uses the handle.
	ErrDuplicateHandle = errors.New("cashtag: handle already exists")
	// ErrInUse signals a delete of a cashtag that requests still reference.
	ErrInUse = errors.New("cashtag: referenced by requests")
)

// Repository provides pgx-backed storage for cashtags.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id::text, handle, provider, status, daily_limit::text, created_at, updated_at`

// Create inserts a cashtag. Handles are unique.
func (r *Repository) Create(ctx context.Context, p CreateParams) (Cashtag, error) {
	query := `
		INSERT INTO cashtags (handle, provider, daily_limit)
		VALUES ($1, $2, $3::numeric)
		RETURNING ` + columns

	c, err := scanCashtag(r.pool.QueryRow(ctx, query, p.Handle, p.Provider, p.DailyLimit.String()))
	if err != nil {
		return Cashtag{}, mapError("create", err)
	}
	return c, nil
}

// GetByID fetches a cashtag by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Cashtag, error) {
	c, err := scanCashtag(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM cashtags WHERE id = $1`, id))
	if err != nil {
		return Cashtag{}, mapError("query by id", err)
	}
	return c, nil
}

// List fetches up to limit cashtags ordered by handle, optionally by status.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]Cashtag, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + columns + ` FROM cashtags`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY handle ASC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cashtag: list: %w", err)
	}
	defer rows.Close()

	list := make([]Cashtag, 0, limit)
	for rows.Next() {
		c, err := scanCashtag(rows)
		if err != nil {
			return nil, fmt.Errorf("cashtag: scan: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cashtag: iterate: %w", err)
	}
	return list, nil
}

// Update applies the non-nil fields of p.
func (r *Repository) Update(ctx context.Context, id string, p UpdateParams) (Cashtag, error) {
	set := []string{}
	args := []any{id}
	if p.Provider != nil {
		args = append(args, *p.Provider)
		set = append(set, fmt.Sprintf("provider = $%d", len(args)))
	}
	if p.Status != nil {
		args = append(args, *p.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if p.DailyLimit != nil {
		args = append(args, p.DailyLimit.String())
		set = append(set, fmt.Sprintf("daily_limit = $%d::numeric", len(args)))
	}
	if len(set) == 0 {
		return r.GetByID(ctx, id)
	}
	set = append(set, "updated_at = now()")

	query := fmt.Sprintf(`UPDATE cashtags SET %s WHERE id = $1 RETURNING %s`, strings.Join(set, ", "), columns)
	c, err := scanCashtag(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return Cashtag{}, mapError("update", err)
	}
	return c, nil
}

// Delete removes a cashtag that no request references.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cashtags WHERE id = $1`, id)
	if err != nil {
		return mapError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCashtag(row pgx.Row) (Cashtag, error) {
	var (
		c     Cashtag
		limit string
	)
	if err := row.Scan(&c.ID, &c.Handle, &c.Provider, &c.Status, &limit, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Cashtag{}, err
	}
	d, err := decimal.NewFromString(limit)
	if err != nil {
		return Cashtag{}, fmt.Errorf("cashtag: parse daily limit %q: %w", limit, err)
	}
	c.DailyLimit = d
	return c, nil
}

func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicateHandle
		case "23503":
			return ErrInUse
		case "22P02":
			return ErrNotFound
		}
	}
	return fmt.Errorf("cashtag: %s: %w", op, err)
}
