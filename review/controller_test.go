package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reviewdesk/lock"
	"reviewdesk/logging"
	"reviewdesk/notify"
	"reviewdesk/request"
)

func TestAutoResume_OpensHeldDialogExactlyOnce(t *testing.T) {
	hub := notify.NewHub(logging.Discard())
	b := newBackend(hub)
	user := uuid.NewString()
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	b.hold(r.ID, user, lock.ModalPayment)
	other := b.seed(request.KindRedeem, request.StatusQueued, 20)

	var log modalLog
	c := mount(t, user, mustPreset(t, ViewFinance), b, hub, log.hooks())

	snap := c.Snapshot()
	if snap.Modal == nil || snap.Modal.RequestID != r.ID || snap.Modal.Type != lock.ModalPayment || !snap.Modal.Resumed {
		t.Fatalf("expected resumed payment dialog for %s, got %+v", r.ID, snap.Modal)
	}

	for i := 0; i < 3; i++ {
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
	if _, err := b.Acquire(context.Background(), other.ID, uuid.NewString(), lock.ModalProcess); err != nil {
		t.Fatalf("unrelated acquire: %v", err)
	}
	eventually(t, "unrelated lock to show up", func() bool {
		for _, req := range c.Snapshot().Requests {
			if req.ID == other.ID {
				return req.Processing.Locked()
			}
		}
		return false
	})

	if n := log.opens(); n != 1 {
		t.Fatalf("expected the dialog to open once, opened %d times", n)
	}
	if b.acquires.Load() != 1 {
		t.Fatalf("auto-resume must not call Acquire")
	}
}

func TestAutoResume_FirstMatchInListOrder(t *testing.T) {
	b := newBackend(nil)
	user := uuid.NewString()
	first := b.seed(request.KindRedeem, request.StatusQueued, 10)
	second := b.seed(request.KindRedeem, request.StatusPaused, 10)
	b.hold(first.ID, user, lock.ModalProcess)
	b.hold(second.ID, user, lock.ModalPayment)

	var log modalLog
	c := mount(t, user, mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), log.hooks())

	snap := c.Snapshot()
	if snap.Modal == nil || snap.Modal.RequestID != first.ID || snap.Modal.Type != lock.ModalProcess {
		t.Fatalf("expected first held request to resume, got %+v", snap.Modal)
	}
	if log.opens() != 1 {
		t.Fatalf("expected a single dialog, got %d", log.opens())
	}
}

func TestAutoResume_IgnoresOtherHolders(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 10)
	b.hold(r.ID, uuid.NewString(), lock.ModalPayment)

	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})
	if c.Snapshot().Modal != nil {
		t.Fatal("a lock held by someone else must not open a dialog")
	}
}

func TestOpenThenCancel_ReturnsRequestToIdle(t *testing.T) {
	hub := notify.NewHub(logging.Discard())
	b := newBackend(hub)
	user := uuid.NewString()
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	before := b.row(r.ID).Processing

	c := mount(t, user, mustPreset(t, ViewFinance), b, hub, Hooks{})

	m, err := c.Open(context.Background(), r.ID, request.ActionPause)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if m.Type != lock.ModalProcess || m.Resumed {
		t.Fatalf("unexpected dialog %+v", m)
	}
	if st := b.row(r.ID).Processing; !st.HeldBy(user) || st.ModalType != lock.ModalProcess {
		t.Fatalf("expected lock held by %s, got %+v", user, st)
	}
	for _, req := range c.Snapshot().Requests {
		if req.ID == r.ID && !req.Processing.HeldBy(user) {
			t.Fatalf("local row not patched optimistically: %+v", req.Processing)
		}
	}

	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	after := b.row(r.ID).Processing
	if after.Locked() || after.Status != before.Status || after.ModalType != before.ModalType {
		t.Fatalf("expected idle after cancel, got %+v", after)
	}
	if c.Snapshot().Modal != nil {
		t.Fatal("dialog should be closed")
	}
}

func TestCancel_ReleasesEvenWhenContextCancelled(t *testing.T) {
	b := newBackend(nil)
	user := uuid.NewString()
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)

	c := NewController(user, mustPreset(t, ViewFinance), b, b, notify.NewHub(logging.Discard()), Options{Logger: logging.Discard(), ReleaseDelay: time.Hour})
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer c.Close(context.Background())

	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = c.Cancel(ctx)

	if b.row(r.ID).Processing.Locked() {
		t.Fatal("dismissal with a dead context must still release")
	}
}

func TestGuardRejected_NoAcquire(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	before := b.row(r.ID).Processing
	banned := banList{r.PlayerID: true}

	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance, BannedPlayerGuard(banned)), b, notify.NewHub(logging.Discard()), Hooks{})

	_, err := c.Open(context.Background(), r.ID, request.ActionPay)
	if !errors.Is(err, ErrGuardRejected) {
		t.Fatalf("expected ErrGuardRejected, got %v", err)
	}
	var ge *GuardError
	if !errors.As(err, &ge) || ge.Guard != "banned_player" {
		t.Fatalf("expected banned_player guard error, got %v", err)
	}
	if n := b.acquires.Load(); n != 0 {
		t.Fatalf("expected no Acquire, got %d", n)
	}
	if after := b.row(r.ID).Processing; after != before {
		t.Fatalf("processing state changed: %+v", after)
	}
	if snap := c.Snapshot(); snap.Modal != nil || !strings.Contains(snap.Alert, "banned") {
		t.Fatalf("expected alert and no dialog, got %+v", snap)
	}
}

func TestGuardError_PassesThroughLookupFailures(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	failing := func(context.Context, request.Request, request.Action) error { return lock.ErrStoreUnavailable }

	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance, failing), b, notify.NewHub(logging.Discard()), Hooks{})
	_, err := c.Open(context.Background(), r.ID, request.ActionPay)
	if !errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrGuardRejected) {
		t.Fatalf("expected store error, got %v", err)
	}
	if b.acquires.Load() != 0 {
		t.Fatal("failed guard lookup must not acquire")
	}
}

func TestFinancePaymentScenario(t *testing.T) {
	hub := notify.NewHub(logging.Discard())
	b := newBackend(hub)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	userA, userB := uuid.NewString(), uuid.NewString()

	ctrls := map[string]*Controller{
		userA: mount(t, userA, mustPreset(t, ViewFinance), b, hub, Hooks{}),
		userB: mount(t, userB, mustPreset(t, ViewFinance), b, hub, Hooks{}),
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = map[string]error{}
	)
	for id, c := range ctrls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Open(context.Background(), r.ID, request.ActionPay)
			mu.Lock()
			errs[id] = err
			mu.Unlock()
		}()
	}
	wg.Wait()

	if (errs[userA] == nil) == (errs[userB] == nil) {
		t.Fatalf("expected exactly one winner, got A=%v B=%v", errs[userA], errs[userB])
	}
	if errs[userA] != nil {
		userA, userB = userB, userA
	}
	a, bc := ctrls[userA], ctrls[userB]
	errB := errs[userB]
	if !errors.Is(errB, ErrAlreadyLocked) {
		t.Fatalf("expected the loser to be refused, got %v", errB)
	}
	if alert := Alert(errB); !strings.Contains(alert, userA) {
		t.Fatalf("alert should name the holder, got %q", alert)
	}

	st := b.row(r.ID).Processing
	if !st.HeldBy(userA) || st.ModalType != lock.ModalPayment {
		t.Fatalf("expected A to hold a payment lock, got %+v", st)
	}

	if _, err := bc.Open(context.Background(), r.ID, request.ActionPay); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected a second attempt to be refused, got %v", err)
	}
	if after := b.row(r.ID).Processing; !after.HeldBy(userA) {
		t.Fatalf("B's attempt changed the lock: %+v", after)
	}

	paid, err := a.Submit(context.Background(), SubmitParams{Action: request.ActionPay, Amount: decimal.NewFromInt(50)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if paid.Status != request.StatusCompleted || paid.Processing.Locked() {
		t.Fatalf("expected completed and idle, got %s %+v", paid.Status, paid.Processing)
	}
	if a.Snapshot().Modal != nil {
		t.Fatal("A's dialog should close after submit")
	}

	eventually(t, "B's view to drop the paid request", func() bool {
		for _, req := range bc.Snapshot().Requests {
			if req.ID == r.ID {
				return false
			}
		}
		return true
	})
	if _, err := bc.Open(context.Background(), r.ID, request.ActionPay); !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("paid request must not be lockable, got %v", err)
	}
}

func TestOpen_DuplicateClickWhileInFlight(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	entered := make(chan struct{})
	release := make(chan struct{})
	b.acquireFn = func() {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Open(context.Background(), r.ID, request.ActionPay)
		done <- err
	}()
	<-entered

	if !c.Snapshot().InFlight {
		t.Fatal("expected in-flight flag while Acquire runs")
	}
	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for duplicate click, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first open: %v", err)
	}
	if n := b.acquires.Load(); n != 1 {
		t.Fatalf("expected one Acquire, got %d", n)
	}
	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); !errors.Is(err, ErrModalOpen) {
		t.Fatalf("expected ErrModalOpen, got %v", err)
	}
}

func TestOpen_ClientSideLockedCheckSkipsAcquire(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	holder := uuid.NewString()
	b.hold(r.ID, holder, lock.ModalPayment)

	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})
	_, err := c.Open(context.Background(), r.ID, request.ActionPay)
	var le *lock.LockedError
	if !errors.As(err, &le) || le.Holder != holder {
		t.Fatalf("expected LockedError naming %s, got %v", holder, err)
	}
	if b.acquires.Load() != 0 {
		t.Fatal("visibly locked request should not reach Acquire")
	}
}

func TestOpen_FailureAfterAcquireReleases(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	b.acquireFn = func() {
		b.mu.Lock()
		b.getErr = errBoom
		b.mu.Unlock()
	}
	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); !errors.Is(err, errBoom) {
		t.Fatalf("expected load failure, got %v", err)
	}
	if b.row(r.ID).Processing.Locked() {
		t.Fatal("lock left held after a failed open")
	}
	if b.releases.Load() != 1 {
		t.Fatalf("expected one release, got %d", b.releases.Load())
	}
}

func TestOpen_ActionOutsideDepartment(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusPending, 50)
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	if _, err := c.Open(context.Background(), r.ID, request.ActionApprove); !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("finance cannot approve, got %v", err)
	}
	if b.acquires.Load() != 0 {
		t.Fatal("disallowed action reached Acquire")
	}
}

func TestSubmit_FailureKeepsDialogAndLock(t *testing.T) {
	b := newBackend(nil)
	user := uuid.NewString()
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	c := mount(t, user, mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := c.Submit(context.Background(), SubmitParams{Action: request.ActionPay, Amount: decimal.NewFromInt(80)})
	if !errors.Is(err, request.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if c.Snapshot().Modal == nil {
		t.Fatal("dialog should stay open after a failed submit")
	}
	if !b.row(r.ID).Processing.HeldBy(user) {
		t.Fatal("lock should stay with the reviewer after a failed submit")
	}

	if _, err := c.Submit(context.Background(), SubmitParams{Action: request.ActionPay, Amount: decimal.NewFromInt(20)}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got := b.row(r.ID)
	if got.Status != request.StatusQueuedPartiallyPaid || got.Processing.Locked() {
		t.Fatalf("expected partial payment and idle, got %s %+v", got.Status, got.Processing)
	}
}

func TestSubmit_ActionMustMatchDialog(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	if _, err := c.Submit(context.Background(), SubmitParams{Action: request.ActionPay}); !errors.Is(err, ErrNoModal) {
		t.Fatalf("expected ErrNoModal, got %v", err)
	}
	if _, err := c.Open(context.Background(), r.ID, request.ActionPause); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := c.Submit(context.Background(), SubmitParams{Action: request.ActionReject}); !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("reject inside a process dialog, got %v", err)
	}
	if _, err := c.Submit(context.Background(), SubmitParams{Action: request.ActionPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
}

func TestSubmit_NotFoundClosesDialog(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	var log modalLog
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), log.hooks())

	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); err != nil {
		t.Fatalf("open: %v", err)
	}
	b.remove(r.ID)

	_, err := c.Submit(context.Background(), SubmitParams{Action: request.ActionPay, Amount: decimal.NewFromInt(50)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	snap := c.Snapshot()
	if snap.Modal != nil {
		t.Fatal("dialog should close when the request is gone")
	}
	if len(snap.Requests) != 0 {
		t.Fatalf("expected refreshed empty list, got %d", len(snap.Requests))
	}
}

func TestHandleEvent_StaleNotification(t *testing.T) {
	b := newBackend(nil)
	b.seed(request.KindRedeem, request.StatusQueued, 50)
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	err := c.HandleEvent(context.Background(), notify.Event{
		Table:          notify.TableRequests,
		Op:             notify.OpUpdate,
		ID:             uuid.NewString(),
		Kind:           request.KindDisputed,
		BusinessStatus: request.StatusDisputed,
	})
	if !errors.Is(err, ErrStaleNotification) {
		t.Fatalf("expected ErrStaleNotification, got %v", err)
	}
}

func TestHandleEvent_DuplicatesAreIdempotent(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	ev := notify.Event{Table: notify.TableRequests, Op: notify.OpUpdate, ID: r.ID, Kind: r.Kind, BusinessStatus: r.Status}
	for i := 0; i < 3; i++ {
		if err := c.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	if snap := c.Snapshot(); len(snap.Requests) != 1 || snap.Requests[0].ID != r.ID {
		t.Fatalf("unexpected list after duplicate events: %+v", snap.Requests)
	}
}

func TestHandleEvent_LocalOpenDuringReadKeepsEvent(t *testing.T) {
	b := newBackend(nil)
	mine := b.seed(request.KindRedeem, request.StatusQueued, 50)
	theirs := b.seed(request.KindRedeem, request.StatusQueued, 80)
	user, other := uuid.NewString(), uuid.NewString()
	c := mount(t, user, mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})

	b.hold(theirs.ID, other, lock.ModalPayment)
	var openErr error
	b.mu.Lock()
	b.getFn = func() { _, openErr = c.Open(context.Background(), mine.ID, request.ActionPay) }
	b.mu.Unlock()

	ev := notify.Event{Table: notify.TableRequests, Op: notify.OpUpdate, ID: theirs.ID, Kind: theirs.Kind, BusinessStatus: theirs.Status}
	if err := c.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if openErr != nil {
		t.Fatalf("open during read: %v", openErr)
	}

	snap := c.Snapshot()
	if snap.Modal == nil || snap.Modal.RequestID != mine.ID {
		t.Fatalf("expected dialog on %s to stay open, got %+v", mine.ID, snap.Modal)
	}
	found := false
	for _, r := range snap.Requests {
		if r.ID == theirs.ID {
			found = true
			if !r.Processing.HeldBy(other) {
				t.Fatalf("expected %s held by %s locally, got %+v", theirs.ID, other, r.Processing)
			}
		}
	}
	if !found {
		t.Fatalf("%s missing from the view", theirs.ID)
	}
}

func TestHandleEvent_NewRequestJoinsView(t *testing.T) {
	hub := notify.NewHub(logging.Discard())
	b := newBackend(hub)
	c := mount(t, uuid.NewString(), mustPreset(t, ViewOperations), b, hub, Hooks{})

	r := b.seed(request.KindRedeem, request.StatusPending, 5)
	b.mu.Lock()
	b.publishLocked(notify.OpInsert, b.rows[r.ID])
	b.mu.Unlock()

	eventually(t, "new request in view", func() bool { return len(c.Snapshot().Requests) == 1 })
}

func TestHandleEvent_ForcedReleaseClosesDialog(t *testing.T) {
	hub := notify.NewHub(logging.Discard())
	b := newBackend(hub)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	var log modalLog
	c := mount(t, uuid.NewString(), mustPreset(t, ViewFinance), b, hub, log.hooks())

	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); err != nil {
		t.Fatalf("open: %v", err)
	}
	b.forceRelease(r.ID)

	eventually(t, "dialog to close", func() bool { return len(log.closes()) > 0 })
	if c.Snapshot().Modal != nil {
		t.Fatal("dialog still open after the lock was lost")
	}
	closes := log.closes()
	if len(closes) != 1 || closes[0] != "lock lost" {
		t.Fatalf("expected lock lost close, got %v", closes)
	}
}

func TestClose_ReleasesAndUnsubscribes(t *testing.T) {
	hub := notify.NewHub(logging.Discard())
	b := newBackend(hub)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)

	c := NewController(uuid.NewString(), mustPreset(t, ViewFinance), b, b, hub, Options{Logger: logging.Discard()})
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); err != nil {
		t.Fatalf("open: %v", err)
	}
	if hub.Len() != 1 {
		t.Fatalf("expected one subscription, got %d", hub.Len())
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if hub.Len() != 0 {
		t.Fatalf("subscription leaked: %d", hub.Len())
	}
	if b.row(r.ID).Processing.Locked() {
		t.Fatal("teardown must release the dialog lock")
	}
	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRoundTrip_FailedContendersDoNotDisturb(t *testing.T) {
	b := newBackend(nil)
	r := b.seed(request.KindRedeem, request.StatusQueued, 50)
	before := b.row(r.ID).Processing
	owner := uuid.NewString()

	c := mount(t, owner, mustPreset(t, ViewFinance), b, notify.NewHub(logging.Discard()), Hooks{})
	if _, err := c.Open(context.Background(), r.ID, request.ActionPay); err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := b.Acquire(context.Background(), r.ID, uuid.NewString(), lock.ModalReject); !errors.Is(err, lock.ErrAlreadyLocked) {
			t.Fatalf("contender %d: expected refusal, got %v", i, err)
		}
		if err := b.Release(context.Background(), r.ID, uuid.NewString()); err != nil {
			t.Fatalf("stray release: %v", err)
		}
	}
	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if after := b.row(r.ID).Processing; after != before {
		t.Fatalf("round trip changed state: %+v -> %+v", before, after)
	}
}

func TestAlert(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&lock.LockedError{RequestID: "r", Holder: "alice"}, "being processed by alice"},
		{normalize(lock.ErrNotFound), "no longer exists"},
		{Reject("banned_player", "the player is banned"), "Action blocked"},
		{lock.ErrStoreUnavailable, "temporarily unavailable"},
		{ErrBusy, "wait"},
	}
	for _, tc := range cases {
		if got := Alert(tc.err); !strings.Contains(got, tc.want) {
			t.Errorf("Alert(%v) = %q, want it to contain %q", tc.err, got, tc.want)
		}
	}
	if Alert(nil) != "" {
		t.Error("nil error should have no alert")
	}
}
