// Package actors drives the review desk the way a busy shift does: many
// reviewers contending for the same requests through the real lock manager
// and request service.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"reviewdesk/lock"
	"reviewdesk/request"
	"reviewdesk/review"
)

// Stats are shared counters across all actors.
type Stats struct {
	Acquired  atomic.Int64
	Contended atomic.Int64
	Applied   atomic.Int64
	Cancelled atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
	Created   atomic.Int64
	Swept     atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("acquired=%d contended=%d applied=%d cancelled=%d rejected=%d transient=%d created=%d swept=%d",
		s.Acquired.Load(), s.Contended.Load(), s.Applied.Load(), s.Cancelled.Load(),
		s.Rejected.Load(), s.Transient.Load(), s.Created.Load(), s.Swept.Load())
}

// IDs is the growing set of request ids reviewers pick from.
type IDs struct {
	mu  sync.Mutex
	ids []string
}

func NewIDs(ids ...string) *IDs {
	return &IDs{ids: append([]string(nil), ids...)}
}

func (p *IDs) Add(id string) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *IDs) Random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return ""
	}
	return p.ids[rand.Intn(len(p.ids))]
}

func (p *IDs) All() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

type Locker interface {
	Acquire(ctx context.Context, requestID, holderID string, modal lock.ModalType) (lock.State, error)
	Release(ctx context.Context, requestID, holderID string) error
	State(ctx context.Context, requestID string) (lock.State, error)
}

type Requests interface {
	Get(ctx context.Context, id string) (request.Request, error)
	Create(ctx context.Context, params request.CreateParams) (request.Request, error)
	Apply(ctx context.Context, p request.ActionParams) (request.Request, error)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Reviewer repeatedly opens a request, then either submits the action its
// status calls for or cancels. A successful submit must leave the lock idle.
func Reviewer(ctx context.Context, locks Locker, requests Requests, ids *IDs, holderID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := ids.Random()
		if id == "" {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		if err := reviewOnce(ctx, locks, requests, id, holderID, stats); err != nil {
			return err
		}
		time.Sleep(time.Duration(5+rand.Intn(25)) * time.Millisecond)
	}
	return nil
}

func reviewOnce(ctx context.Context, locks Locker, requests Requests, id, holderID string, stats *Stats) error {
	req, err := requests.Get(ctx, id)
	if err != nil {
		stats.Transient.Add(1)
		return nil
	}
	action, amount := nextAction(req)

	if _, err := locks.Acquire(ctx, id, holderID, action.Modal()); err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			stats.Contended.Add(1)
		} else {
			stats.Transient.Add(1)
		}
		return nil
	}
	stats.Acquired.Add(1)

	if req.Status.Terminal() || rand.Intn(4) == 0 {
		_ = locks.Release(context.WithoutCancel(ctx), id, holderID)
		stats.Cancelled.Add(1)
		return nil
	}

	_, err = requests.Apply(ctx, request.ActionParams{
		RequestID: id,
		ActorID:   holderID,
		Action:    action,
		Amount:    amount,
		Reason:    "stress",
	})
	switch {
	case err == nil:
		stats.Applied.Add(1)
		st, serr := locks.State(ctx, id)
		if serr == nil && st.HeldBy(holderID) {
			return fmt.Errorf("reviewer %s: request %s still held after a successful %s", holderID, id, action)
		}
		return nil
	case errors.Is(err, request.ErrInvalidTransition), errors.Is(err, request.ErrInvalidAmount), errors.Is(err, request.ErrLockedByOther):
		// status moved under a stale read, or the sweep took the lock
		stats.Rejected.Add(1)
	default:
		stats.Transient.Add(1)
	}
	_ = locks.Release(context.WithoutCancel(ctx), id, holderID)
	return nil
}

// nextAction picks the action the request's status calls for.
func nextAction(req request.Request) (request.Action, decimal.Decimal) {
	switch req.Status {
	case request.StatusPending:
		return request.ActionApprove, decimal.Zero
	case request.StatusVerificationPending:
		if rand.Intn(8) == 0 {
			return request.ActionReject, decimal.Zero
		}
		return request.ActionVerify, decimal.Zero
	case request.StatusQueued, request.StatusQueuedPartiallyPaid:
		if rand.Intn(6) == 0 {
			return request.ActionPause, decimal.Zero
		}
		return request.ActionPay, partial(req.Remaining())
	case request.StatusPaused:
		return request.ActionResume, decimal.Zero
	case request.StatusDisputed:
		return request.ActionResolve, decimal.Zero
	default:
		return request.ActionReject, decimal.Zero
	}
}

// partial pays between a third and all of the remaining amount.
func partial(remaining decimal.Decimal) decimal.Decimal {
	cent := decimal.New(1, -2)
	if remaining.LessThanOrEqual(cent) {
		return remaining
	}
	frac := decimal.NewFromFloat(0.34 + rand.Float64()*0.66)
	amt := remaining.Mul(frac).Round(2)
	if amt.LessThan(cent) {
		amt = cent
	}
	if amt.GreaterThan(remaining) {
		amt = remaining
	}
	return amt
}

// Intake keeps new requests arriving while reviewers work.
func Intake(ctx context.Context, requests Requests, ids *IDs, playerID, actorID string, stats *Stats, stop <-chan struct{}) error {
	kinds := []request.Kind{request.KindRedeem, request.KindRedeem, request.KindDisputed}
	for !stopped(ctx, stop) {
		req, err := requests.Create(ctx, request.CreateParams{
			Kind:     kinds[rand.Intn(len(kinds))],
			PlayerID: playerID,
			Amount:   decimal.NewFromInt(int64(10 + rand.Intn(500))),
			ActorID:  actorID,
		})
		if err == nil {
			ids.Add(req.ID)
			stats.Created.Add(1)
		} else {
			stats.Transient.Add(1)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
	return nil
}

type StaleReleaser interface {
	ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// Sweeper frees locks abandoned by crashed reviewers.
func Sweeper(ctx context.Context, locks StaleReleaser, maxAge time.Duration, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if n, err := locks.ReleaseStale(ctx, maxAge); err == nil {
			stats.Swept.Add(int64(n))
		}
		time.Sleep(maxAge / 4)
	}
	return nil
}

type BatchDispatcher interface {
	DispatchBatch(ctx context.Context) (int, error)
}

// OutboxWorker drains player notifications concurrently with reviews.
func OutboxWorker(ctx context.Context, outbox BatchDispatcher, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if n, err := outbox.DispatchBatch(ctx); err != nil || n == 0 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return nil
}

// Desk drives a mounted review controller: open the first idle request in
// view, then submit or cancel. Lost races and guard refusals are expected.
func Desk(ctx context.Context, c *review.Controller, dept review.Department, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		snap := c.Snapshot()
		var target *request.Request
		for i := range snap.Requests {
			if !snap.Requests[i].Processing.Locked() {
				target = &snap.Requests[i]
				break
			}
		}
		if snap.Modal != nil {
			_ = c.Cancel(ctx)
			continue
		}
		if target == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		action, amount := nextAction(*target)
		if _, ok := dept.Actions[action]; !ok {
			action = request.ActionReject
		}
		if _, err := c.Open(ctx, target.ID, action); err != nil {
			stats.Contended.Add(1)
			time.Sleep(20 * time.Millisecond)
			continue
		}
		stats.Acquired.Add(1)
		if rand.Intn(3) == 0 {
			_ = c.Cancel(ctx)
			stats.Cancelled.Add(1)
			continue
		}
		if _, err := c.Submit(ctx, review.SubmitParams{Action: action, Amount: amount, Reason: "stress"}); err != nil {
			stats.Rejected.Add(1)
			_ = c.Cancel(ctx)
			continue
		}
		stats.Applied.Add(1)
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
	return nil
}
