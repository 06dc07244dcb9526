package referral

import (
	"time"

	"github.com/google/uuid"
)

// Edge links a referred user to the user whose code they entered.
type Edge struct {
	ReferrerID         uuid.UUID  `db:"referrer_id" json:"referrer_id"`
	ReferredID         uuid.UUID  `db:"referred_id" json:"referred_id"`
	SignupBonusAwarded int        `db:"signup_bonus_awarded" json:"signup_bonus_awarded"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// Commission is the referrer's share of one completed purchase.
type Commission struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ReferrerID      uuid.UUID `db:"referrer_id" json:"referrer_id"`
	ReferredID      uuid.UUID `db:"referred_id" json:"referred_id"`
	TransactionID   uuid.UUID `db:"transaction_id" json:"transaction_id"`
	PurchaseCredits int       `db:"purchase_credits" json:"purchase_credits"`
	Percent         int       `db:"percent" json:"percent"`
	CreditsAwarded  int       `db:"credits_awarded" json:"credits_awarded"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Purchase is the part of a completed payment a commission is computed from.
type Purchase struct {
	TransactionID uuid.UUID
	UserID        uuid.UUID
	Credits       int
}

type LinkResult struct {
	AlreadyReferred bool `json:"already_referred"`
	BonusAwarded    bool `json:"bonus_awarded"`
}

// Summary is what a user sees about their own referrals.
type Summary struct {
	ReferralCode      string `db:"referral_code" json:"referral_code"`
	ReferredCount     int    `db:"referred_count" json:"referred_count"`
	CompletedCount    int    `db:"completed_count" json:"completed_count"`
	BonusCredits      int    `db:"bonus_credits" json:"bonus_credits"`
	CommissionCredits int    `db:"commission_credits" json:"commission_credits"`
}

// CommissionCredits is floor(credits * percent / 100).
func CommissionCredits(credits, percent int) int {
	if credits <= 0 || percent <= 0 {
		return 0
	}
	return credits * percent / 100
}
