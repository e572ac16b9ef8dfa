package request

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"reviewdesk/logging"
	"reviewdesk/messaging"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type ActivityWriter interface {
	Append(ctx context.Context, tx pgx.Tx, requestID, actorID, action string, payload map[string]any) error
}

type Notifier interface {
	SendNotification(ctx context.Context, tx pgx.Tx, n messaging.Notification)
}

// Service runs business mutations. Each one is a single transaction that
// writes the request, its activity entry and any outbound notification.
type Service struct {
	pool     TxBeginner
	repo     Repository
	activity ActivityWriter
	notifier Notifier
	logger   *slog.Logger
}

func NewService(pool TxBeginner, repo Repository, activity ActivityWriter, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		activity: activity,
		notifier: notifier,
		logger:   logging.OrDefault(logger).With("component", "request"),
	}
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Stats(ctx context.Context, kind Kind) (Stats, error) {
	if !kind.Valid() {
		return Stats{}, fmt.Errorf("request: unknown kind %q", kind)
	}
	return s.repo.Stats(ctx, kind)
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	if !params.Kind.Valid() {
		return Request{}, fmt.Errorf("request: unknown kind %q", params.Kind)
	}
	if params.PlayerID == "" {
		return Request{}, fmt.Errorf("request: player id required")
	}
	if !params.Amount.IsPositive() {
		return Request{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, classify("begin tx", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.Create(ctx, tx, params)
	if err != nil {
		return Request{}, err
	}
	if err := s.activity.Append(ctx, tx, req.ID, params.ActorID, "request.created", map[string]any{
		"kind":   req.Kind,
		"amount": req.Amount.StringFixed(2),
	}); err != nil {
		return Request{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, classify("commit create", err)
	}
	return req, nil
}

// UpdateFields patches business fields without touching the processing lock.
func (s *Service) UpdateFields(ctx context.Context, id, actorID string, fields Fields) (Request, error) {
	if fields.Empty() {
		return Request{}, ErrNoFields
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, classify("begin tx", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Request{}, err
	}
	if fields.Amount != nil && (!fields.Amount.IsPositive() || fields.Amount.LessThan(current.PaidAmount)) {
		return Request{}, fmt.Errorf("%w: amount %s below paid %s", ErrInvalidAmount, fields.Amount.StringFixed(2), current.PaidAmount.StringFixed(2))
	}

	updated, err := s.repo.UpdateFields(ctx, tx, id, fields)
	if err != nil {
		return Request{}, err
	}
	if err := s.activity.Append(ctx, tx, id, actorID, "request.fields_updated", fieldsPayload(fields)); err != nil {
		return Request{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, classify("commit update fields", err)
	}
	return updated, nil
}

// Apply performs a business action. The row is locked for the duration of
// the transaction and the processing lock is idle once Apply returns nil.
// A lock held by anyone other than the actor refuses the action.
func (s *Service) Apply(ctx context.Context, p ActionParams) (Request, error) {
	if p.RequestID == "" || p.ActorID == "" {
		return Request{}, fmt.Errorf("request: request id and actor id required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, classify("begin tx", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, p.RequestID)
	if err != nil {
		return Request{}, err
	}
	if current.Processing.Locked() && !current.Processing.HeldBy(p.ActorID) {
		return Request{}, fmt.Errorf("%w: held by %s", ErrLockedByOther, current.Processing.Holder())
	}

	out, err := Next(current, p)
	if err != nil {
		return Request{}, err
	}

	updated, err := s.repo.ApplyTransition(ctx, tx, p.RequestID, out)
	if err != nil {
		return Request{}, err
	}

	payload := map[string]any{
		"kind":            current.Kind,
		"previous_status": current.Status,
		"next_status":     out.Status,
	}
	if p.Action == ActionPay {
		payload["amount"] = p.Amount.StringFixed(2)
		payload["paid_amount"] = out.PaidAmount.StringFixed(2)
	}
	if p.Reason != "" {
		payload["reason"] = p.Reason
	}
	if err := s.activity.Append(ctx, tx, p.RequestID, p.ActorID, "request."+string(p.Action), payload); err != nil {
		return Request{}, err
	}

	if n, ok := notificationFor(current, updated, p); ok && s.notifier != nil {
		s.notifier.SendNotification(ctx, tx, n)
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, classify("commit "+string(p.Action), err)
	}

	s.logger.Info("request action applied",
		"request_id", p.RequestID,
		"actor_id", p.ActorID,
		"action", p.Action,
		"from", current.Status,
		"to", updated.Status,
	)
	return updated, nil
}

func notificationFor(before, after Request, p ActionParams) (messaging.Notification, bool) {
	var template string
	switch after.Status {
	case StatusVerificationPending:
		template = messaging.TemplateRedeemApproved
	case StatusQueued:
		template = messaging.TemplateRedeemVerified
		if p.Action == ActionResume {
			template = messaging.TemplateRedeemResumed
		}
	case StatusQueuedPartiallyPaid:
		template = messaging.TemplateRedeemPartiallyPaid
		if p.Action == ActionResume {
			template = messaging.TemplateRedeemResumed
		}
	case StatusCompleted:
		template = messaging.TemplateRedeemPaid
	case StatusPaused:
		template = messaging.TemplateRedeemPaused
	case StatusRejected:
		template = messaging.TemplateRequestRejected
	case StatusVerificationFailed:
		template = messaging.TemplateVerificationRejected
	case StatusResolved:
		template = messaging.TemplateDisputeResolved
	default:
		return messaging.Notification{}, false
	}

	args := map[string]any{
		"amount":    after.Amount.StringFixed(2),
		"paid":      after.PaidAmount.StringFixed(2),
		"remaining": after.Remaining().StringFixed(2),
	}
	if p.Reason != "" {
		args["reason"] = p.Reason
	}
	return messaging.Notification{
		RecipientID: before.PlayerID,
		TemplateID:  template,
		Args:        args,
		Context: map[string]any{
			"request_id": before.ID,
			"kind":       before.Kind,
			"action":     p.Action,
		},
	}, true
}

func fieldsPayload(f Fields) map[string]any {
	out := map[string]any{}
	if f.PaymentMethod != nil {
		out["payment_method"] = *f.PaymentMethod
	}
	if f.CashtagID != nil {
		out["cashtag_id"] = *f.CashtagID
	}
	if f.Notes != nil {
		out["notes"] = *f.Notes
	}
	if f.Amount != nil {
		out["amount"] = f.Amount.StringFixed(2)
	}
	return out
}
