package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents payment status
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// CanTransition reports whether a transaction may move from s to next.
// Transactions only move forward out of pending.
func (s Status) CanTransition(next Status) bool {
	if s != StatusPending {
		return false
	}
	switch next {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Transaction is a credit package purchase.
type Transaction struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	OrderID       string          `db:"order_id" json:"order_id"`
	UserID        uuid.UUID       `db:"user_id" json:"-"`
	PackageCode   string          `db:"package_code" json:"package_code"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	CreditValue   int             `db:"credit_value" json:"credit_value"`
	Status        Status          `db:"status" json:"status"`
	PaymentMethod *string         `db:"payment_method" json:"payment_method,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Checkout is returned to the client to start paying for a package.
type Checkout struct {
	OrderID    string          `json:"order_id"`
	PaymentURL string          `json:"payment_url"`
	Amount     decimal.Decimal `json:"amount"`
	Credits    int             `json:"credits"`
}

// WebhookResult reports what a webhook delivery changed.
type WebhookResult struct {
	OrderID      string `json:"order_id"`
	Status       Status `json:"status"`
	CreditsAdded int    `json:"credits_added"`
}
