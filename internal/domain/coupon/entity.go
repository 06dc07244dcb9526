package coupon

import (
	"time"

	"github.com/google/uuid"
)

// Coupon is a promo code that adds a fixed number of credits once per user.
type Coupon struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Code         string     `db:"code" json:"code"`
	CreditValue  int        `db:"credit_value" json:"credit_value"`
	MaxRedeemers int        `db:"max_redeemers" json:"max_redeemers"`
	UsedCount    int        `db:"used_count" json:"used_count"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Check applies the coupon-wide rules in order. Capacity is checked
// separately, after the caller's own redemption is ruled out.
func (c *Coupon) Check(now time.Time) error {
	if !c.IsActive {
		return ErrCouponInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	return nil
}

// Full reports whether every redeemer slot is taken.
func (c *Coupon) Full() bool {
	return c.UsedCount >= c.MaxRedeemers
}

// Redemption is the result of a successful redeem.
type Redemption struct {
	CreditsAdded int `json:"credits_added"`
	Balance      int `json:"balance"`
}
