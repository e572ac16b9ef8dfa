package review

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"reviewdesk/logging"
)

var ErrSessionNotFound = errors.New("review: session not found")

// Registry keeps the server-hosted controllers, one per reviewer tab, under
// an xid session id.
type Registry struct {
	locks    Locker
	requests Requests
	feed     Feed
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewRegistry(locks Locker, requests Requests, feed Feed, opts Options) *Registry {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		locks:    locks,
		requests: requests,
		feed:     feed,
		opts:     opts,
		logger:   logging.OrDefault(opts.Logger).With("component", "review_registry"),
		now:      now,
		sessions: make(map[string]*Controller),
	}
}

// Create mounts a controller for userID on dept and registers it.
func (r *Registry) Create(ctx context.Context, userID string, dept Department) (string, *Controller, error) {
	c := NewController(userID, dept, r.locks, r.requests, r.feed, r.opts)
	if err := c.Mount(ctx); err != nil {
		_ = c.Close(ctx)
		return "", nil, err
	}

	id := xid.New().String()
	r.mu.Lock()
	r.sessions[id] = c
	r.mu.Unlock()

	r.logger.Info("review session opened", "session_id", id, "user_id", userID, "department", dept.Name)
	return id, c, nil
}

// Get returns the session if it belongs to userID. Sessions owned by someone
// else are reported as missing.
func (r *Registry) Get(id, userID string) (*Controller, error) {
	if _, err := xid.FromString(id); err != nil {
		return nil, ErrSessionNotFound
	}
	r.mu.Lock()
	c, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || c.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	c.Touch()
	return c, nil
}

// Close tears the session down and forgets it.
func (r *Registry) Close(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	c, ok := r.sessions[id]
	if !ok || c.UserID() != userID {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	r.logger.Info("review session closed", "session_id", id, "user_id", userID)
	return c.Close(ctx)
}

// ReapIdle closes sessions untouched for longer than maxIdle. Any dialog
// lock they still hold is released.
func (r *Registry) ReapIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var stale []string
	for id, c := range r.sessions {
		if c.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	victims := make([]*Controller, 0, len(stale))
	for _, id := range stale {
		victims = append(victims, r.sessions[id])
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for i, c := range victims {
		if err := c.Close(ctx); err != nil {
			r.logger.Warn("closing idle session", "session_id", stale[i], "user_id", c.UserID(), "error", err)
		}
	}
	if len(victims) > 0 {
		r.logger.Info("reaped idle review sessions", "count", len(victims))
	}
	return len(victims)
}

// CloseAll is used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Controller)
	r.mu.Unlock()

	for id, c := range all {
		if err := c.Close(ctx); err != nil {
			r.logger.Warn("closing session on shutdown", "session_id", id, "error", err)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
