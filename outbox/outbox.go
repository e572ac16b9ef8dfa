// Package outbox implements the transactional outbox: producers enqueue on
// their own transaction, a dispatcher delivers committed messages later.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reviewdesk/logging"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
)

// Message is a claimed outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Writer enqueues messages on the caller's transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload any) error {
	if topic == "" {
		return fmt.Errorf("outbox: topic required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

// Handler delivers one message. A returned error counts as a failed attempt.
type Handler func(ctx context.Context, msg Message) error

// Dispatcher claims pending messages with SKIP LOCKED so several API
// instances can run it concurrently.
type Dispatcher struct {
	pool        *pgxpool.Pool
	handlers    map[string]Handler
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
}

func NewDispatcher(pool *pgxpool.Pool, batchSize, maxAttempts int, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 20
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		pool:        pool,
		handlers:    make(map[string]Handler),
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		logger:      logging.OrDefault(logger).With("component", "outbox"),
	}
}

// Handle registers the handler for a topic. Messages on topics without a
// handler stay pending.
func (d *Dispatcher) Handle(topic string, h Handler) *Dispatcher {
	d.handlers[topic] = h
	return d
}

// DispatchBatch delivers up to one batch and reports how many were processed.
func (d *Dispatcher) DispatchBatch(ctx context.Context) (int, error) {
	topics := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return 0, nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id::text, topic, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending' AND topic = ANY($1)
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, topics, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim: %w", err)
	}
	batch := make([]Message, 0, d.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate: %w", err)
	}

	processed := 0
	for _, m := range batch {
		herr := d.handlers[m.Topic](ctx, m)
		if herr == nil {
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt = now(), last_error = NULL WHERE id = $1`, m.ID); err != nil {
				return 0, fmt.Errorf("outbox: mark processed: %w", err)
			}
			processed++
			continue
		}

		status := StatusPending
		if m.Attempts+1 >= d.maxAttempts {
			status = StatusDead
		}
		d.logger.Warn("outbox delivery failed",
			"message_id", m.ID,
			"topic", m.Topic,
			"attempt", m.Attempts+1,
			"status", status,
			"error", herr)
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = $2, attempts = attempts + 1, last_attempt = now(), last_error = $3 WHERE id = $1`, m.ID, status, herr.Error()); err != nil {
			return 0, fmt.Errorf("outbox: mark failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit: %w", err)
	}
	return processed, nil
}
