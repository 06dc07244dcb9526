package user

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

const userColumns = `id, email, credit_balance, email_verified, credits_granted, last_generation_at, referred_by, referral_code, created_at, updated_at`

// Repository defines user data access interface
type Repository interface {
	Begin(ctx context.Context) (*sqlx.Tx, context.CancelFunc, error)
	// InsertTx creates the user. inserted is false when a unique constraint
	// (id, email or referral code) already holds the value.
	InsertTx(ctx context.Context, tx *sqlx.Tx, u *User) (inserted bool, err error)
	GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*User, error)
	EmailTakenTx(ctx context.Context, tx *sqlx.Tx, email string, except uuid.UUID) (bool, error)
	MarkEmailVerifiedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error
	// ClaimCreditGrantTx flips credits_granted once. It reports whether this call flipped it.
	ClaimCreditGrantTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// repository implements Repository
type repository struct {
	db *sqlx.DB
}

// NewRepository creates new user repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Begin(ctx context.Context) (*sqlx.Tx, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: begin tx: %w", credit.ErrInternal, err)
	}
	return tx, cancel, nil
}

func (r *repository) InsertTx(ctx context.Context, tx *sqlx.Tx, u *User) (bool, error) {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO users (id, email, credit_balance, email_verified, credits_granted, referral_code)
		VALUES ($1, $2, 0, FALSE, FALSE, $3)
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.ReferralCode).Scan(&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: user repository create: %w", credit.ErrInternal, err)
	}
	return true, nil
}

func (r *repository) GetByIDTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*User, error) {
	var u User
	err := tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %w", credit.ErrInternal, err)
	}
	return &u, nil
}

func (r *repository) EmailTakenTx(ctx context.Context, tx *sqlx.Tx, email string, except uuid.UUID) (bool, error) {
	var taken bool
	err := tx.GetContext(ctx, &taken, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`, email, except)
	if err != nil {
		return false, fmt.Errorf("%w: check email: %w", credit.ErrInternal, err)
	}
	return taken, nil
}

func (r *repository) MarkEmailVerifiedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("%w: mark email verified: %w", credit.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", credit.ErrInternal, err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) ClaimCreditGrantTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE users SET credits_granted = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT credits_granted
	`, id)
	if err != nil {
		return false, fmt.Errorf("%w: claim credit grant: %w", credit.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", credit.ErrInternal, err)
	}
	return rows > 0, nil
}

// GetByID returns user by ID
func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %w", credit.ErrInternal, err)
	}
	return &u, nil
}
