package user

import (
	"time"

	"github.com/google/uuid"
)

// User is an account as the credit system sees it. Identity and login live
// with the identity provider.
type User struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	CreditBalance    int        `db:"credit_balance" json:"credit_balance"`
	EmailVerified    bool       `db:"email_verified" json:"email_verified"`
	CreditsGranted   bool       `db:"credits_granted" json:"-"`
	LastGenerationAt *time.Time `db:"last_generation_at" json:"last_generation_at,omitempty"`
	ReferredBy       *uuid.UUID `db:"referred_by" json:"-"`
	ReferralCode     string     `db:"referral_code" json:"referral_code"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// RegisterInput is delivered by the identity provider when an account is created.
type RegisterInput struct {
	UserID        uuid.UUID `json:"user_id" validate:"required"`
	Email         string    `json:"email" validate:"required,email"`
	EmailVerified bool      `json:"email_verified"`
	ReferralCode  string    `json:"referral_code" validate:"omitempty,referral_code"`
}

type RegisterResult struct {
	User           *User         `json:"user"`
	Created        bool          `json:"created"`
	ReferralLinked bool          `json:"referral_linked"`
	Verification   *VerifyResult `json:"verification,omitempty"`
}

// VerifyResult reports what marking an email verified paid out.
type VerifyResult struct {
	CreditsGranted       int  `json:"credits_granted"`
	ReferralBonusAwarded bool `json:"referral_bonus_awarded"`
}
