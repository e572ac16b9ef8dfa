package request

import (
	"time"

	"github.com/shopspring/decimal"

	"reviewdesk/lock"
)

// Kind tags which workflow a request belongs to. It is read from the row and
// carried on the value from then on.
type Kind string

const (
	KindRedeem   Kind = "redeem"
	KindDisputed Kind = "disputed"
)

func (k Kind) Valid() bool {
	return k == KindRedeem || k == KindDisputed
}

type Status string

const (
	StatusPending             Status = "pending"
	StatusVerificationPending Status = "verification_pending"
	StatusQueued              Status = "queued"
	StatusQueuedPartiallyPaid Status = "queued_partially_paid"
	StatusPaused              Status = "paused"
	StatusCompleted           Status = "completed"
	StatusRejected            Status = "rejected"
	StatusVerificationFailed  Status = "verification_failed"
	StatusDisputed            Status = "disputed"
	StatusResolved            Status = "resolved"
)

// Terminal statuses accept no further actions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusVerificationFailed, StatusResolved:
		return true
	default:
		return false
	}
}

// Request is a redeem or disputed recharge request under review.
type Request struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	PlayerID      string          `json:"player_id"`
	Status        Status          `json:"business_status"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentMethod string          `json:"payment_method"`
	CashtagID     *string         `json:"cashtag_id"`
	Notes         *string         `json:"notes"`
	Processing    lock.State      `json:"processing"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Remaining is the unpaid part of the amount.
func (r Request) Remaining() decimal.Decimal {
	rem := r.Amount.Sub(r.PaidAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Filters select the requests a department view shows.
type Filters struct {
	Kind      Kind
	Statuses  []Status
	PlayerID  string
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

// Matches reports whether a request with the given kind and status belongs
// in a view using these filters. Paging is not considered.
func (f Filters) Matches(kind Kind, status Status, playerID string) bool {
	if f.Kind != "" && f.Kind != kind {
		return false
	}
	if f.PlayerID != "" && f.PlayerID != playerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Fields is a partial update of business fields. Processing columns are not
// reachable through it.
type Fields struct {
	PaymentMethod *string
	CashtagID     *string
	Notes         *string
	Amount        *decimal.Decimal
}

func (f Fields) Empty() bool {
	return f.PaymentMethod == nil && f.CashtagID == nil && f.Notes == nil && f.Amount == nil
}

type CreateParams struct {
	Kind          Kind
	PlayerID      string
	Amount        decimal.Decimal
	PaymentMethod string
	CashtagID     *string
	Notes         *string
	ActorID       string
}

// ActionParams is a business mutation submitted from a review dialog.
type ActionParams struct {
	RequestID string
	ActorID   string
	Action    Action
	Amount    decimal.Decimal
	Reason    string
}

// Stats counts requests per status for one kind.
type Stats struct {
	Kind     Kind
	ByStatus map[Status]int
	Locked   int
	Total    int
}
