package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

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

// GetByCodeTx looks a coupon up case-insensitively.
func (r *Repository) GetByCodeTx(ctx context.Context, tx *sqlx.Tx, code string) (*Coupon, error) {
	var c Coupon
	err := tx.GetContext(ctx, &c, `
		SELECT id, code, credit_value, max_redeemers, used_count, is_active, expires_at, created_at
		FROM coupons
		WHERE lower(code) = lower($1)
	`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCoupon
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get coupon: %w", credit.ErrInternal, err)
	}
	return &c, nil
}

// HasRedemptionTx reports whether userID already redeemed the coupon.
func (r *Repository) HasRedemptionTx(ctx context.Context, tx *sqlx.Tx, couponID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2)
	`, couponID, userID)
	if err != nil {
		return false, fmt.Errorf("%w: check redemption: %w", credit.ErrInternal, err)
	}
	return exists, nil
}

// InsertRedemptionTx records that userID redeemed the coupon.
// The (coupon_id, user_id) unique constraint rejects a second redemption.
func (r *Repository) InsertRedemptionTx(ctx context.Context, tx *sqlx.Tx, couponID, userID uuid.UUID, credits int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_redemptions (coupon_id, user_id, credits_added)
		VALUES ($1, $2, $3)
	`, couponID, userID, credits)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505":
				return ErrAlreadyRedeemed
			case "23503":
				return credit.ErrAccountNotFound
			}
		}
		return fmt.Errorf("%w: insert redemption: %w", credit.ErrInternal, err)
	}
	return nil
}

// IncrementUsageTx takes one redeemer slot. It fails with ErrCouponLimitReached
// when a concurrent redemption took the last one.
func (r *Repository) IncrementUsageTx(ctx context.Context, tx *sqlx.Tx, couponID uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = $1 AND used_count < max_redeemers
	`, couponID)
	if err != nil {
		return fmt.Errorf("%w: increment coupon usage: %w", credit.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", credit.ErrInternal, err)
	}
	if rows == 0 {
		return ErrCouponLimitReached
	}
	return nil
}

// Create inserts a coupon. Used by seeding and tests.
func (r *Repository) Create(ctx context.Context, c *Coupon) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.db.GetContext(ctx, &c.CreatedAt, `
		INSERT INTO coupons (id, code, credit_value, max_redeemers, used_count, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, c.ID, c.Code, c.CreditValue, c.MaxRedeemers, c.UsedCount, c.IsActive, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: create coupon: %w", credit.ErrInternal, err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Coupon, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c Coupon
	err := r.db.GetContext(ctx, &c, `
		SELECT id, code, credit_value, max_redeemers, used_count, is_active, expires_at, created_at
		FROM coupons WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCoupon
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get coupon: %w", credit.ErrInternal, err)
	}
	return &c, nil
}
