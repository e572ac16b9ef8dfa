package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reviewdesk/logging"
)

// Channel is the pg_notify channel the requests trigger writes to.
const Channel = "request_changes"

// Publisher receives decoded events.
type Publisher interface {
	Publish(ev Event)
}

// Listener holds one pool connection in LISTEN mode and forwards every
// notification to a Publisher. It reconnects with exponential backoff.
type Listener struct {
	pool       *pgxpool.Pool
	out        Publisher
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewListener(pool *pgxpool.Pool, out Publisher, logger *slog.Logger) *Listener {
	return &Listener{
		pool:       pool,
		out:        out,
		logger:     logging.OrDefault(logger).With("component", "notify_listener"),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run listens until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	connected := false
	for {
		err := l.listen(ctx, connected, func() {
			connected = true
			backoff = l.minBackoff
		})
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("listener disconnected", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context, resync bool, onListening func()) error {
	pc, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("notify: acquire conn: %w", err)
	}
	// a LISTENing connection must not go back into the pool
	conn := pc.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("notify: listen: %w", err)
	}
	onListening()
	l.logger.Info("listening for request changes", "channel", Channel)
	if resync {
		l.out.Publish(Event{Table: TableRequests, Op: OpResync, CommittedAt: time.Now().UTC()})
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("notify: wait: %w", err)
		}
		ev, err := Decode(n.Payload)
		if err != nil {
			l.logger.Error("dropping malformed notification", "error", err)
			continue
		}
		l.out.Publish(ev)
	}
}
