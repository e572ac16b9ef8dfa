package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reviewdesk/lock"
	"reviewdesk/logging"
	"reviewdesk/notify"
	"reviewdesk/request"
)

// backend is an in-memory request table. Every committed change is
// published on the hub the way the database trigger does.
type backend struct {
	mu   sync.Mutex
	rows map[string]request.Request
	ord  []string
	hub  *notify.Hub

	acquires  atomic.Int32
	releases  atomic.Int32
	getErr    error
	acquireFn func() // runs inside Acquire before the conditional write
	getFn     func() // runs once at the start of the next Get
}

func newBackend(hub *notify.Hub) *backend {
	return &backend{rows: map[string]request.Request{}, hub: hub}
}

func (b *backend) seed(kind request.Kind, status request.Status, amount int64) request.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	req := request.Request{
		ID:         uuid.NewString(),
		Kind:       kind,
		PlayerID:   uuid.NewString(),
		Status:     status,
		Amount:     decimal.NewFromInt(amount),
		Processing: lock.Idle(),
		CreatedAt:  time.Now(),
	}
	b.rows[req.ID] = req
	b.ord = append(b.ord, req.ID)
	return req
}

func (b *backend) hold(id, holder string, modal lock.ModalType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rows[id]
	now := time.Now()
	r.Processing = lock.State{Status: lock.StatusInProgress, ProcessedBy: &holder, ModalType: modal, StartedAt: &now}
	b.rows[id] = r
}

func (b *backend) row(id string) request.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows[id]
}

func (b *backend) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rows, id)
}

func (b *backend) publishLocked(op notify.Op, r request.Request) {
	if b.hub == nil {
		return
	}
	b.hub.Publish(notify.Event{
		Table:          notify.TableRequests,
		Op:             op,
		ID:             r.ID,
		Kind:           r.Kind,
		PlayerID:       r.PlayerID,
		BusinessStatus: r.Status,
		Processing:     r.Processing,
		CommittedAt:    time.Now(),
	})
}

func (b *backend) Acquire(_ context.Context, id, holder string, modal lock.ModalType) (lock.State, error) {
	fn := b.acquireFn
	b.acquires.Add(1)
	if fn != nil {
		fn()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[id]
	if !ok {
		return lock.State{}, lock.ErrNotFound
	}
	if r.Processing.Locked() {
		return lock.State{}, &lock.LockedError{RequestID: id, Holder: r.Processing.Holder(), ModalType: r.Processing.ModalType}
	}
	now := time.Now()
	r.Processing = lock.State{Status: lock.StatusInProgress, ProcessedBy: &holder, ModalType: modal, StartedAt: &now}
	b.rows[id] = r
	b.publishLocked(notify.OpUpdate, r)
	return r.Processing, nil
}

func (b *backend) Release(_ context.Context, id, holder string) error {
	b.releases.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[id]
	if !ok {
		return lock.ErrNotFound
	}
	if !r.Processing.HeldBy(holder) {
		return nil
	}
	r.Processing = lock.Idle()
	b.rows[id] = r
	b.publishLocked(notify.OpUpdate, r)
	return nil
}

func (b *backend) forceRelease(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rows[id]
	r.Processing = lock.Idle()
	b.rows[id] = r
	b.publishLocked(notify.OpUpdate, r)
}

func (b *backend) List(_ context.Context, f request.Filters) ([]request.Request, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []request.Request
	for _, id := range b.ord {
		r, ok := b.rows[id]
		if ok && f.Matches(r.Kind, r.Status, r.PlayerID) {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (b *backend) Get(_ context.Context, id string) (request.Request, error) {
	b.mu.Lock()
	fn := b.getFn
	b.getFn = nil
	b.mu.Unlock()
	if fn != nil {
		fn()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return request.Request{}, b.getErr
	}
	r, ok := b.rows[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return r, nil
}

func (b *backend) Apply(_ context.Context, p request.ActionParams) (request.Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[p.RequestID]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	if r.Processing.Locked() && !r.Processing.HeldBy(p.ActorID) {
		return request.Request{}, fmt.Errorf("%w: held by %s", request.ErrLockedByOther, r.Processing.Holder())
	}
	out, err := request.Next(r, p)
	if err != nil {
		return request.Request{}, err
	}
	r.Status = out.Status
	r.PaidAmount = out.PaidAmount
	r.Processing = lock.Idle()
	b.rows[r.ID] = r
	b.publishLocked(notify.OpUpdate, r)
	return r, nil
}

type banList map[string]bool

func (b banList) IsBanned(_ context.Context, playerID string) (bool, error) {
	return b[playerID], nil
}

type modalLog struct {
	mu     sync.Mutex
	opened []Modal
	closed []string
}

func (l *modalLog) hooks() Hooks {
	return Hooks{
		ModalOpened: func(m Modal) {
			l.mu.Lock()
			l.opened = append(l.opened, m)
			l.mu.Unlock()
		},
		ModalClosed: func(_ Modal, reason string) {
			l.mu.Lock()
			l.closed = append(l.closed, reason)
			l.mu.Unlock()
		},
	}
}

func (l *modalLog) opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.opened)
}

func (l *modalLog) closes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.closed...)
}

func mustPreset(t *testing.T, name string, guards ...Guard) Department {
	t.Helper()
	d, err := Preset(name, guards...)
	if err != nil {
		t.Fatalf("preset %s: %v", name, err)
	}
	return d
}

func mount(t *testing.T, userID string, dept Department, b *backend, hub *notify.Hub, hooks Hooks) *Controller {
	t.Helper()
	c := NewController(userID, dept, b, b, hub, Options{Logger: logging.Discard(), Hooks: hooks})
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
