package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"reviewdesk/lock"
)

var (
	ErrNotFound = errors.New("request: not found")
	// ErrLockedByOther is returned when a business mutation is attempted on a
	// request whose processing lock belongs to someone else.
	ErrLockedByOther = errors.New("request: locked by another reviewer")
	ErrNoFields      = errors.New("request: no fields to update")

	errMalformedRow = errors.New("malformed row")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, int, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	ApplyTransition(ctx context.Context, tx pgx.Tx, id string, out Outcome) (Request, error)
	UpdateFields(ctx context.Context, tx pgx.Tx, id string, fields Fields) (Request, error)
	Stats(ctx context.Context, kind Kind) (Stats, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id::text, kind::text, player_id::text, business_status, amount::text, paid_amount::text,
       payment_method, cashtag_id::text, notes,
       processing_status::text, processed_by::text, modal_type::text, processing_started_at,
       created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Request, error) {
	query := `
		INSERT INTO requests (kind, player_id, business_status, amount, payment_method, cashtag_id, notes)
		VALUES ($1::request_kind, $2::uuid, $3, $4::numeric, $5, $6::uuid, $7)
		RETURNING ` + columns

	row := tx.QueryRow(ctx, query,
		params.Kind,
		params.PlayerID,
		InitialStatus(params.Kind),
		params.Amount.String(),
		params.PaymentMethod,
		params.CashtagID,
		params.Notes,
	)
	req, err := scanRequest(row)
	if err != nil {
		return Request{}, classify("create", err)
	}
	return req, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM requests WHERE id = $1`, id))
	if err != nil {
		return Request{}, classify("get", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.SortKey == "" {
		filters.SortKey = "createdAt"
	}
	if filters.SortOrder == "" {
		filters.SortOrder = "asc"
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Kind != "" {
		where = append(where, fmt.Sprintf("kind = $%d::request_kind", len(args)+1))
		args = append(args, filters.Kind)
	}
	if len(filters.Statuses) > 0 {
		statuses := make([]string, len(filters.Statuses))
		for i, s := range filters.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, fmt.Sprintf("business_status = ANY($%d)", len(args)+1))
		args = append(args, statuses)
	}
	if filters.PlayerID != "" {
		where = append(where, fmt.Sprintf("player_id = $%d::uuid", len(args)+1))
		args = append(args, filters.PlayerID)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "ASC"
	}
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	// id breaks ties so list order, and therefore auto-resume order, is stable.
	query := fmt.Sprintf(`SELECT %s FROM requests%s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d`,
		columns, whereClause, mapSortKey(filters.SortKey), sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("query list", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, classify("scan list", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("iterate list", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM requests"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, classify("count list", err)
	}
	return list, total, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	req, err := scanRequest(tx.QueryRow(ctx, `SELECT `+columns+` FROM requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Request{}, classify("get for update", err)
	}
	return req, nil
}

// ApplyTransition writes the outcome and returns the processing lock to idle
// in the same statement.
func (r *PGRepository) ApplyTransition(ctx context.Context, tx pgx.Tx, id string, out Outcome) (Request, error) {
	query := `
		UPDATE requests
		SET business_status = $2,
		    paid_amount = $3::numeric,
		    processing_status = 'idle',
		    processed_by = NULL,
		    modal_type = 'none',
		    processing_started_at = NULL,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + columns

	req, err := scanRequest(tx.QueryRow(ctx, query, id, out.Status, out.PaidAmount.String()))
	if err != nil {
		return Request{}, classify("apply transition", err)
	}
	return req, nil
}

// UpdateFields patches business fields. Processing columns are never written
// here; the lock belongs to the lock package.
func (r *PGRepository) UpdateFields(ctx context.Context, tx pgx.Tx, id string, fields Fields) (Request, error) {
	if fields.Empty() {
		return Request{}, ErrNoFields
	}
	set := []string{}
	args := []any{id}
	if fields.PaymentMethod != nil {
		args = append(args, *fields.PaymentMethod)
		set = append(set, fmt.Sprintf("payment_method = $%d", len(args)))
	}
	if fields.CashtagID != nil {
		args = append(args, nullableString(*fields.CashtagID))
		set = append(set, fmt.Sprintf("cashtag_id = $%d::uuid", len(args)))
	}
	if fields.Notes != nil {
		args = append(args, nullableString(*fields.Notes))
		set = append(set, fmt.Sprintf("notes = $%d", len(args)))
	}
	if fields.Amount != nil {
		args = append(args, fields.Amount.String())
		set = append(set, fmt.Sprintf("amount = $%d::numeric", len(args)))
	}
	set = append(set, "updated_at = now()")

	query := fmt.Sprintf(`UPDATE requests SET %s WHERE id = $1 RETURNING %s`, strings.Join(set, ", "), columns)
	req, err := scanRequest(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return Request{}, classify("update fields", err)
	}
	return req, nil
}

func (r *PGRepository) Stats(ctx context.Context, kind Kind) (Stats, error) {
	const query = `
		SELECT business_status,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE processing_status = 'in_progress')
		FROM requests
		WHERE kind = $1::request_kind
		GROUP BY business_status
	`
	rows, err := r.pool.Query(ctx, query, kind)
	if err != nil {
		return Stats{}, classify("stats", err)
	}
	defer rows.Close()

	stats := Stats{Kind: kind, ByStatus: map[Status]int{}}
	for rows.Next() {
		var (
			status        Status
			count, locked int
		)
		if err := rows.Scan(&status, &count, &locked); err != nil {
			return Stats{}, classify("scan stats", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		stats.Locked += locked
	}
	if err := rows.Err(); err != nil {
		return Stats{}, classify("iterate stats", err)
	}
	return stats, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req          Request
		amount, paid string
		procStatus   string
		modal        string
		processedBy  *string
		startedAt    *time.Time
	)
	if err := row.Scan(
		&req.ID,
		&req.Kind,
		&req.PlayerID,
		&req.Status,
		&amount,
		&paid,
		&req.PaymentMethod,
		&req.CashtagID,
		&req.Notes,
		&procStatus,
		&processedBy,
		&modal,
		&startedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return Request{}, err
	}

	var err error
	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return Request{}, fmt.Errorf("%w: amount %q: %w", errMalformedRow, amount, err)
	}
	if req.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return Request{}, fmt.Errorf("%w: paid amount %q: %w", errMalformedRow, paid, err)
	}
	req.Processing = lock.State{
		Status:      lock.Status(procStatus),
		ProcessedBy: processedBy,
		ModalType:   lock.ModalType(modal),
		StartedAt:   startedAt,
	}
	return req, nil
}

// classify maps driver errors onto package sentinels. Anything that did not
// come back from the server is reported as a store outage.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request: %s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02":
			return ErrNotFound
		case "23503":
			return fmt.Errorf("request: %s: unknown reference (%s): %w", op, pgErr.ConstraintName, ErrNotFound)
		case "23514":
			return fmt.Errorf("request: %s: %w: %s", op, ErrInvalidAmount, pgErr.ConstraintName)
		}
		return fmt.Errorf("request: %s: %w", op, err)
	}
	if errors.Is(err, errMalformedRow) {
		return fmt.Errorf("request: %s: %w", op, err)
	}
	return fmt.Errorf("request: %s: %w: %w", op, lock.ErrStoreUnavailable, err)
}

func mapSortKey(key string) string {
	switch key {
	case "amount":
		return "amount"
	case "status":
		return "business_status"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
