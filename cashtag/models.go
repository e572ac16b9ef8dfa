package cashtag

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status controls whether a cashtag can receive payouts.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusDisabled:
		return true
	default:
		return false
	}
}

// Cashtag is a payout handle that redeem payments are sent from.
type Cashtag struct {
	ID         string          `json:"id"`
	Handle     string          `json:"handle"`
	Provider   string          `json:"provider"`
	Status     Status          `json:"status"`
	DailyLimit decimal.Decimal `json:"daily_limit"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CreateParams holds the fields for a new cashtag.
type CreateParams struct {
	Handle     string          `json:"handle" validate:"required,max=64"`
	Provider   string          `json:"provider" validate:"required,max=32"`
	DailyLimit decimal.Decimal `json:"daily_limit"`
}

// UpdateParams is a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Provider   *string          `json:"provider,omitempty" validate:"omitempty,max=32"`
	Status     *Status          `json:"status,omitempty"`
	DailyLimit *decimal.Decimal `json:"daily_limit,omitempty"`
}
