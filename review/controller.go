// Package review hosts one reviewer's live view of a department queue and
// mediates every processing-lock operation around the review dialog.
//
// A Controller is single-writer from the reviewer's point of view: at most
// one dialog is open and at most one store call is in flight per action.
// Concurrency between reviewers is left to the lock store.
package review

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"reviewdesk/lock"
	"reviewdesk/logging"
	"reviewdesk/notify"
	"reviewdesk/request"
)

// maxEventRereads bounds how often HandleEvent re-reads a row while local
// changes keep landing before it falls back to a full reload.
const maxEventRereads = 2

type Locker interface {
	Acquire(ctx context.Context, requestID, holderID string, modal lock.ModalType) (lock.State, error)
	Release(ctx context.Context, requestID, holderID string) error
}

type Requests interface {
	List(ctx context.Context, filters request.Filters) ([]request.Request, int, error)
	Get(ctx context.Context, id string) (request.Request, error)
	Apply(ctx context.Context, p request.ActionParams) (request.Request, error)
}

type Feed interface {
	Subscribe(table string, buffer int) *notify.Subscription
}

// Modal is the open review dialog.
type Modal struct {
	Type      lock.ModalType  `json:"type"`
	RequestID string          `json:"request_id"`
	Request   request.Request `json:"request"`
	Resumed   bool            `json:"resumed"`
	OpenedAt  time.Time       `json:"opened_at"`
}

// Hooks observe dialog transitions. They run without the controller's lock.
type Hooks struct {
	ModalOpened func(Modal)
	ModalClosed func(m Modal, reason string)
}

type Options struct {
	Logger *slog.Logger
	// ReleaseDelay postpones the release on cancel so the closing dialog
	// can animate. Zero releases immediately.
	ReleaseDelay time.Duration
	EventBuffer  int
	Hooks        Hooks
	Clock        func() time.Time
}

// SubmitParams are the dialog inputs of a business action.
type SubmitParams struct {
	Action request.Action
	Amount decimal.Decimal
	Reason string
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	UserID     string            `json:"user_id"`
	Department string            `json:"department"`
	Requests   []request.Request `json:"requests"`
	Total      int               `json:"total"`
	Modal      *Modal            `json:"modal,omitempty"`
	InFlight   bool              `json:"in_flight"`
	Alert      string            `json:"alert,omitempty"`
	Version    uint64            `json:"version"`
}

type Controller struct {
	userID   string
	dept     Department
	locks    Locker
	requests Requests
	feed     Feed
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	list       []request.Request
	total      int
	modal      *Modal
	inFlight   bool
	alert      string
	version    uint64
	lastActive time.Time
	mounted    bool
	closed     bool
	sub        *notify.Subscription
	stop       context.CancelFunc
	done       chan struct{}
}

func NewController(userID string, dept Department, locks Locker, requests Requests, feed Feed, opts Options) *Controller {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Controller{
		userID:     userID,
		dept:       dept,
		locks:      locks,
		requests:   requests,
		feed:       feed,
		opts:       opts,
		logger:     logging.OrDefault(opts.Logger).With("component", "review", "department", dept.Name, "user_id", userID),
		now:        now,
		lastActive: now(),
	}
}

// Mount subscribes to request changes, loads the queue and starts applying
// change events in the background. The subscription is taken first so no
// change committed after the load is missed.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	c.sub = c.feed.Subscribe(notify.TableRequests, c.opts.EventBuffer)
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	c.stop = stop
	c.done = make(chan struct{})
	c.mu.Unlock()

	err := c.Refresh(ctx)
	go c.run(runCtx, c.sub)
	return err
}

func (c *Controller) run(ctx context.Context, sub *notify.Subscription) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if sub.Lagged() {
				if err := c.Refresh(ctx); err != nil {
					c.logger.Warn("reload after dropped events failed", "error", err)
				}
				continue
			}
			if err := c.HandleEvent(ctx, ev); err != nil && !errors.Is(err, ErrStaleNotification) {
				c.logger.Warn("change event not applied", "request_id", ev.ID, "error", err)
			}
		}
	}
}

// Refresh reloads the queue and runs auto-resume against it.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	seen := c.version
	c.mu.Unlock()

	list, total, err := c.requests.List(ctx, c.dept.Filter)
	if err != nil {
		err = normalize(err)
		c.setAlert(err)
		return err
	}

	c.mu.Lock()
	if c.version != seen {
		// a local change landed while loading; overlay it so the optimistic
		// state is not rolled back by an older read
		list = c.overlayLocked(list)
	}
	c.list = list
	c.total = total
	c.version++
	opened := c.autoResumeLocked()
	c.mu.Unlock()

	c.fireOpened(opened)
	return nil
}

// HandleEvent applies one change notification. Events for requests that are
// neither shown nor belong in the view return ErrStaleNotification.
func (c *Controller) HandleEvent(ctx context.Context, ev notify.Event) error {
	if ev.Op == notify.OpResync {
		return c.Refresh(ctx)
	}
	if ev.Table != notify.TableRequests {
		return ErrStaleNotification
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, inView := c.findLocked(ev.ID)
	relevant := c.dept.Filter.Matches(ev.Kind, ev.BusinessStatus, ev.PlayerID)
	ownModal := c.modal != nil && c.modal.RequestID == ev.ID
	seen := c.version
	c.mu.Unlock()

	if !inView && !relevant && !ownModal {
		return ErrStaleNotification
	}
	if inView != relevant {
		return c.Refresh(ctx)
	}

	// the event is only a hint; re-read so duplicates and reordering are harmless
	var fresh request.Request
	for attempt := 0; ; attempt++ {
		var err error
		fresh, err = c.requests.Get(ctx, ev.ID)
		if err != nil {
			err = normalize(err)
			if errors.Is(err, ErrNotFound) {
				c.dropModalFor(ev.ID, "request removed")
				return c.Refresh(ctx)
			}
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.version == seen {
			break // c.mu stays held for the patch below
		}
		// a local change landed during the read and may have touched this
		// row too; read again rather than patch over it
		seen = c.version
		c.mu.Unlock()
		if attempt == maxEventRereads {
			return c.Refresh(ctx)
		}
	}
	idx, ok := c.findLocked(ev.ID)
	statusChanged := ok && c.list[idx].Status != fresh.Status
	if ok {
		c.list[idx] = fresh
	}
	var lost *Modal
	if c.modal != nil && c.modal.RequestID == fresh.ID && !c.inFlight && !fresh.Processing.HeldBy(c.userID) {
		lost = c.modal
		c.modal = nil
	}
	c.version++
	opened := c.autoResumeLocked()
	c.mu.Unlock()

	if lost != nil {
		c.logger.Warn("review lock lost", "request_id", fresh.ID, "holder", fresh.Processing.Holder())
		c.fireClosed(*lost, "lock lost")
	}
	c.fireOpened(opened)

	if statusChanged || !c.dept.Filter.Matches(fresh.Kind, fresh.Status, fresh.PlayerID) {
		return c.Refresh(ctx)
	}
	return nil
}

// autoResumeLocked reopens the dialog of the first request in list order
// that this reviewer still holds. It never opens a second dialog.
func (c *Controller) autoResumeLocked() *Modal {
	if c.modal != nil || c.inFlight || c.closed {
		return nil
	}
	for _, r := range c.list {
		if !r.Processing.HeldBy(c.userID) || !r.Processing.ModalType.Valid() {
			continue
		}
		c.modal = &Modal{
			Type:      r.Processing.ModalType,
			RequestID: r.ID,
			Request:   r,
			Resumed:   true,
			OpenedAt:  c.now(),
		}
		c.logger.Info("resumed review", "request_id", r.ID, "modal_type", r.Processing.ModalType)
		m := *c.modal
		return &m
	}
	return nil
}

// Open acquires the processing lock for action on requestID and opens its
// dialog. Guards run before the lock is taken.
func (c *Controller) Open(ctx context.Context, requestID string, action request.Action) (Modal, error) {
	spec, ok := c.dept.Actions[action]
	if !ok {
		return Modal{}, ErrActionNotAllowed
	}

	c.mu.Lock()
	if c.modal != nil && !c.closed {
		c.mu.Unlock()
		return Modal{}, ErrModalOpen
	}
	if err := c.beginLocked(); err != nil {
		c.mu.Unlock()
		return Modal{}, err
	}
	idx, listed := c.findLocked(requestID)
	var target request.Request
	if listed {
		target = c.list[idx]
	}
	c.mu.Unlock()

	m, err := c.open(ctx, requestID, action, spec, target, listed)

	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		c.alert = Alert(err)
	} else {
		c.alert = ""
	}
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = c.Refresh(ctx)
		}
		return Modal{}, err
	}
	c.fireOpened(&m)
	return m, nil
}

func (c *Controller) open(ctx context.Context, requestID string, action request.Action, spec ActionSpec, target request.Request, listed bool) (Modal, error) {
	if !listed {
		fetched, err := c.requests.Get(ctx, requestID)
		if err != nil {
			return Modal{}, normalize(err)
		}
		target = fetched
	}

	if target.Processing.HeldBy(c.userID) && target.Processing.ModalType == spec.Modal {
		return c.install(target, target.Processing, true)
	}
	if target.Processing.Locked() {
		return Modal{}, &lock.LockedError{RequestID: target.ID, Holder: target.Processing.Holder(), ModalType: target.Processing.ModalType}
	}
	if !request.CanApply(target.Kind, action, target.Status) {
		return Modal{}, ErrActionNotAllowed
	}

	for _, guard := range spec.Guards {
		if err := guard(ctx, target, action); err != nil {
			if errors.Is(err, ErrGuardRejected) {
				c.logger.Info("guard rejected review", "request_id", target.ID, "action", action, "error", err)
			}
			return Modal{}, normalize(err)
		}
	}

	st, err := c.locks.Acquire(ctx, target.ID, c.userID, spec.Modal)
	if err != nil {
		return Modal{}, normalize(err)
	}

	// from here on every failure must give the lock back
	fresh, err := c.requests.Get(ctx, target.ID)
	if err != nil {
		c.releaseAfterFailure(ctx, target.ID)
		return Modal{}, normalize(err)
	}
	fresh.Processing = st

	m, err := c.install(fresh, st, false)
	if err != nil {
		c.releaseAfterFailure(ctx, target.ID)
		return Modal{}, err
	}
	return m, nil
}

// install opens the dialog and patches the local row with the lock state so
// the view is consistent before the change event arrives.
func (c *Controller) install(req request.Request, st lock.State, resumed bool) (Modal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Modal{}, ErrClosed
	}
	req.Processing = st
	if idx, ok := c.findLocked(req.ID); ok {
		c.list[idx] = req
	}
	c.modal = &Modal{Type: st.ModalType, RequestID: req.ID, Request: req, Resumed: resumed, OpenedAt: c.now()}
	c.version++
	return *c.modal, nil
}

func (c *Controller) releaseAfterFailure(ctx context.Context, requestID string) {
	if err := c.locks.Release(context.WithoutCancel(ctx), requestID, c.userID); err != nil {
		c.logger.Error("release after failed open", "request_id", requestID, "error", err)
	}
}

// Cancel dismisses the dialog. A release is always attempted, even when ctx
// is already cancelled.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.modal == nil {
		c.mu.Unlock()
		return ErrNoModal
	}
	if err := c.beginLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	m := *c.modal
	c.mu.Unlock()

	if c.opts.ReleaseDelay > 0 {
		t := time.NewTimer(c.opts.ReleaseDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	relErr := normalize(c.locks.Release(context.WithoutCancel(ctx), m.RequestID, c.userID))

	c.mu.Lock()
	c.inFlight = false
	c.modal = nil
	if relErr == nil {
		c.patchIdleLocked(m.RequestID)
	}
	c.alert = Alert(relErr)
	c.version++
	c.mu.Unlock()

	c.fireClosed(m, "cancelled")
	if relErr != nil {
		c.logger.Warn("release on cancel failed", "request_id", m.RequestID, "error", relErr)
	}

	refreshErr := c.Refresh(ctx)
	if relErr != nil {
		return relErr
	}
	return refreshErr
}

// Submit runs the business action of the open dialog. On success the
// request's lock is idle and the dialog closes. On failure the dialog stays
// open with the lock still held so the reviewer can retry or cancel, except
// when the request is gone.
func (c *Controller) Submit(ctx context.Context, p SubmitParams) (request.Request, error) {
	c.mu.Lock()
	if c.modal == nil {
		c.mu.Unlock()
		return request.Request{}, ErrNoModal
	}
	if !c.dept.Allows(p.Action, c.modal.Type) {
		c.mu.Unlock()
		return request.Request{}, ErrActionNotAllowed
	}
	if err := c.beginLocked(); err != nil {
		c.mu.Unlock()
		return request.Request{}, err
	}
	m := *c.modal
	c.mu.Unlock()

	updated, err := c.requests.Apply(ctx, request.ActionParams{
		RequestID: m.RequestID,
		ActorID:   c.userID,
		Action:    p.Action,
		Amount:    p.Amount,
		Reason:    p.Reason,
	})
	err = normalize(err)

	c.mu.Lock()
	c.inFlight = false
	c.alert = Alert(err)
	// a vanished request or a lock now owned by someone else cannot be retried
	closed := err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, request.ErrLockedByOther)
	if closed {
		c.modal = nil
	}
	if err == nil {
		if idx, ok := c.findLocked(updated.ID); ok {
			c.list[idx] = updated
		}
	}
	c.version++
	c.mu.Unlock()

	switch {
	case err == nil:
		c.logger.Info("review submitted", "request_id", m.RequestID, "action", p.Action, "status", updated.Status)
		c.fireClosed(m, "submitted")
	case closed:
		c.logger.Warn("review submit failed, dialog closed", "request_id", m.RequestID, "action", p.Action, "error", err)
		c.fireClosed(m, "lock unavailable")
	default:
		c.logger.Warn("review submit failed, dialog kept open", "request_id", m.RequestID, "action", p.Action, "error", err)
		return request.Request{}, err
	}

	if rerr := c.Refresh(ctx); rerr != nil && err == nil {
		c.logger.Warn("refresh after submit failed", "error", rerr)
	}
	return updated, err
}

// Close tears the session down: the subscription is dropped and a held
// dialog lock is released. Close is idempotent.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	m := c.modal
	c.modal = nil
	sub, stop, done := c.sub, c.stop, c.done
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if stop != nil {
		stop()
		<-done
	}
	if m == nil {
		return nil
	}
	c.fireClosed(*m, "session closed")
	return normalize(c.locks.Release(context.WithoutCancel(ctx), m.RequestID, c.userID))
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		UserID:     c.userID,
		Department: c.dept.Name,
		Requests:   append([]request.Request(nil), c.list...),
		Total:      c.total,
		InFlight:   c.inFlight,
		Alert:      c.alert,
		Version:    c.version,
	}
	if c.modal != nil {
		m := *c.modal
		s.Modal = &m
	}
	return s
}

func (c *Controller) UserID() string {
	return c.userID
}

// LastActive is the time of the last reviewer-initiated call.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Touch marks the session as in use.
func (c *Controller) Touch() {
	c.mu.Lock()
	c.lastActive = c.now()
	c.mu.Unlock()
}

// beginLocked claims the single in-flight slot.
func (c *Controller) beginLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.inFlight {
		return ErrBusy
	}
	c.inFlight = true
	c.lastActive = c.now()
	return nil
}

func (c *Controller) findLocked(id string) (int, bool) {
	for i, r := range c.list {
		if r.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (c *Controller) overlayLocked(list []request.Request) []request.Request {
	if c.modal == nil {
		return list
	}
	for i, r := range list {
		if r.ID == c.modal.RequestID && !r.Processing.Locked() {
			list[i].Processing = c.modal.Request.Processing
		}
	}
	return list
}

func (c *Controller) patchIdleLocked(id string) {
	if idx, ok := c.findLocked(id); ok && c.list[idx].Processing.HeldBy(c.userID) {
		c.list[idx].Processing = lock.Idle()
	}
}

func (c *Controller) dropModalFor(id, reason string) {
	c.mu.Lock()
	var m *Modal
	if c.modal != nil && c.modal.RequestID == id && !c.inFlight {
		m = c.modal
		c.modal = nil
		c.version++
	}
	c.mu.Unlock()
	if m != nil {
		c.fireClosed(*m, reason)
	}
}

func (c *Controller) setAlert(err error) {
	c.mu.Lock()
	c.alert = Alert(err)
	c.mu.Unlock()
}

func (c *Controller) fireOpened(m *Modal) {
	if m != nil && c.opts.Hooks.ModalOpened != nil {
		c.opts.Hooks.ModalOpened(*m)
	}
}

func (c *Controller) fireClosed(m Modal, reason string) {
	if c.opts.Hooks.ModalClosed != nil {
		c.opts.Hooks.ModalClosed(m, reason)
	}
}
