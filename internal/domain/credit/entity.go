package credit

import (
	"time"

	"github.com/google/uuid"
)

// TxType is the reason tag of a ledger row.
type TxType string

const (
	TxTypeDeduction          TxType = "deduction"
	TxTypeRefund             TxType = "refund"
	TxTypeCoupon             TxType = "coupon"
	TxTypePurchase           TxType = "purchase"
	TxTypeReferralBonus      TxType = "referral_bonus"
	TxTypeReferralCommission TxType = "referral_commission"
	TxTypeSignupGrant        TxType = "signup_grant"
)

func (t TxType) Valid() bool {
	switch t {
	case TxTypeDeduction, TxTypeRefund, TxTypeCoupon, TxTypePurchase,
		TxTypeReferralBonus, TxTypeReferralCommission, TxTypeSignupGrant:
		return true
	}
	return false
}

// TxMeta links a ledger row to the entity that caused it.
type TxMeta struct {
	RelatedEntityType string
	RelatedEntityID   string
	Description       string
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// CreditTransaction is a ledger row.
type CreditTransaction struct {
	ID                uuid.UUID `db:"id" json:"id"`
	UserID            uuid.UUID `db:"user_id" json:"-"`
	AmountDelta       int       `db:"amount_delta" json:"amount_delta"`
	TxType            TxType    `db:"tx_type" json:"tx_type"`
	RelatedEntityType *string   `db:"related_entity_type" json:"related_entity_type,omitempty"`
	RelatedEntityID   *string   `db:"related_entity_id" json:"related_entity_id,omitempty"`
	Description       string    `db:"description" json:"description"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// ReservationStatus tracks what happened to a reserved credit.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationRefunded ReservationStatus = "refunded"
	ReservationConsumed ReservationStatus = "consumed"
)

// Reservation is the token returned by a successful admission check.
// Refunding it returns exactly one credit, once.
type Reservation struct {
	ID      uuid.UUID `json:"reservation_id"`
	UserID  uuid.UUID `json:"-"`
	Balance int       `json:"balance"`
}

// RefundResult reports the balance after a refund and whether this call credited it.
type RefundResult struct {
	Balance  int  `json:"balance"`
	Refunded bool `json:"refunded"`
}

// admissionState is the snapshot used to explain a rejected admission.
type admissionState struct {
	EmailVerified    bool       `db:"email_verified"`
	Balance          int        `db:"credit_balance"`
	LastGenerationAt *time.Time `db:"last_generation_at"`
}
