package notify

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reviewdesk/db"
	"reviewdesk/logging"
)

// TestListener_Integration checks that trigger notifications reach a
// subscriber through a real PostgreSQL via DATABASE_URL.
func TestListener_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hub := NewHub(logging.Discard())
	sub := hub.Subscribe(TableRequests, 16)
	defer sub.Unsubscribe()

	listenCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewListener(pool, hub, logging.Discard()).Run(listenCtx) }()

	var playerID, requestID string
	if err := pool.QueryRow(ctx, `INSERT INTO players (username) VALUES ($1) RETURNING id`, fmt.Sprintf("listener-%d", time.Now().UnixNano())).Scan(&playerID); err != nil {
		t.Fatalf("seed player: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM requests WHERE player_id = $1`, playerID)
		pool.Exec(context.Background(), `DELETE FROM players WHERE id = $1`, playerID)
	})

	// LISTEN is issued asynchronously; keep inserting until one is observed.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-sub.Events():
			if ev.PlayerID != playerID {
				continue
			}
			if ev.Op != OpInsert || ev.Processing.Locked() {
				t.Fatalf("unexpected event %+v", ev)
			}
			stop()
			if err := <-done; err != nil {
				t.Fatalf("listener returned %v", err)
			}
			return
		case <-tick.C:
			if err := pool.QueryRow(ctx, `
				INSERT INTO requests (kind, player_id, business_status, amount)
				VALUES ('redeem', $1, 'pending', 10) RETURNING id
			`, playerID).Scan(&requestID); err != nil {
				t.Fatalf("insert request: %v", err)
			}
		case <-deadline:
			t.Fatal("no notification received")
		}
	}
}
