package referral

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/adgen/adgen-api/internal/domain/credit"
)

const queryTimeout = 3 * time.Second

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Begin(ctx context.Context) (*sqlx.Tx, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: begin tx: %w", credit.ErrInternal, err)
	}
	return tx, cancel, nil
}

// FindReferrerTx resolves a referral code to its owner, ignoring case.
func (r *Repository) FindReferrerTx(ctx context.Context, tx *sqlx.Tx, code string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.GetContext(ctx, &id, `SELECT id FROM users WHERE upper(referral_code) = upper($1)`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrInvalidReferralCode
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: find referrer: %w", credit.ErrInternal, err)
	}
	return id, nil
}

// SetReferrerTx sets referred_by once. linked is false when the user already had a referrer.
func (r *Repository) SetReferrerTx(ctx context.Context, tx *sqlx.Tx, userID, referrerID uuid.UUID) (linked, verified bool, err error) {
	err = tx.QueryRowxContext(ctx, `
		UPDATE users
		SET referred_by = $2, updated_at = NOW()
		WHERE id = $1 AND referred_by IS NULL
		RETURNING email_verified
	`, userID, referrerID).Scan(&verified)
	if err == nil {
		return true, verified, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, false, fmt.Errorf("%w: set referrer: %w", credit.ErrInternal, err)
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID); err != nil {
		return false, false, fmt.Errorf("%w: check user: %w", credit.ErrInternal, err)
	}
	if !exists {
		return false, false, credit.ErrAccountNotFound
	}
	return false, false, nil
}

func (r *Repository) InsertEdgeTx(ctx context.Context, tx *sqlx.Tx, referrerID, referredID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO referral_edges (referrer_id, referred_id, signup_bonus_awarded)
		VALUES ($1, $2, 0)
		ON CONFLICT (referred_id) DO NOTHING
	`, referrerID, referredID)
	if err != nil {
		return fmt.Errorf("%w: insert referral edge: %w", credit.ErrInternal, err)
	}
	return nil
}

// CompleteEdgeTx closes an open edge with the awarded bonus. ok is false when
// there is no edge or it was already completed.
func (r *Repository) CompleteEdgeTx(ctx context.Context, tx *sqlx.Tx, referredID uuid.UUID, bonus int, now time.Time) (referrerID uuid.UUID, ok bool, err error) {
	err = tx.GetContext(ctx, &referrerID, `
		UPDATE referral_edges
		SET signup_bonus_awarded = $2, completed_at = $3
		WHERE referred_id = $1 AND completed_at IS NULL
		RETURNING referrer_id
	`, referredID, bonus, now)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: complete referral edge: %w", credit.ErrInternal, err)
	}
	return referrerID, true, nil
}

// ReferrerOfTx returns who referred userID, or nil.
func (r *Repository) ReferrerOfTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*uuid.UUID, error) {
	var referrer *uuid.UUID
	err := tx.GetContext(ctx, &referrer, `SELECT referred_by FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credit.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read referrer: %w", credit.ErrInternal, err)
	}
	return referrer, nil
}

// InsertCommissionTx stores a commission. inserted is false when the
// transaction already has one.
func (r *Repository) InsertCommissionTx(ctx context.Context, tx *sqlx.Tx, c *Commission) (bool, error) {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO referral_commissions (referrer_id, referred_id, transaction_id, purchase_credits, percent, credits_awarded)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING id, created_at
	`, c.ReferrerID, c.ReferredID, c.TransactionID, c.PurchaseCredits, c.Percent, c.CreditsAwarded).Scan(&c.ID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: insert commission: %w", credit.ErrInternal, err)
	}
	return true, nil
}

func (r *Repository) GetEdge(ctx context.Context, referredID uuid.UUID) (*Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var e Edge
	err := r.db.GetContext(ctx, &e, `
		SELECT referrer_id, referred_id, signup_bonus_awarded, completed_at, created_at
		FROM referral_edges WHERE referred_id = $1
	`, referredID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get referral edge: %w", credit.ErrInternal, err)
	}
	return &e, nil
}

func (r *Repository) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var s Summary
	err := r.db.GetContext(ctx, &s, `
		SELECT u.referral_code,
		       (SELECT COUNT(*) FROM referral_edges e WHERE e.referrer_id = u.id) AS referred_count,
		       (SELECT COUNT(*) FROM referral_edges e WHERE e.referrer_id = u.id AND e.completed_at IS NOT NULL) AS completed_count,
		       (SELECT COALESCE(SUM(e.signup_bonus_awarded), 0) FROM referral_edges e WHERE e.referrer_id = u.id) AS bonus_credits,
		       (SELECT COALESCE(SUM(c.credits_awarded), 0) FROM referral_commissions c WHERE c.referrer_id = u.id) AS commission_credits
		FROM users u
		WHERE u.id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credit.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: referral summary: %w", credit.ErrInternal, err)
	}
	return &s, nil
}
