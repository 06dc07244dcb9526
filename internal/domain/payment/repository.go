package payment

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

const (
	queryTimeout = 5 * time.Second

	transactionColumns = `id, order_id, user_id, package_code, amount, credit_value, status, payment_method, completed_at, created_at, updated_at`
)

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

func (r *Repository) Create(ctx context.Context, t *Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO payment_transactions (id, order_id, user_id, package_code, amount, credit_value, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, t.ID, t.OrderID, t.UserID, t.PackageCode, t.Amount, t.CreditValue, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: create transaction: %w", credit.ErrInternal, err)
	}
	return nil
}

func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Transaction
	err := r.db.GetContext(ctx, &t, `SELECT `+transactionColumns+` FROM payment_transactions WHERE order_id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %w", credit.ErrInternal, err)
	}
	return &t, nil
}

// LockByOrderIDTx reads the transaction and holds its row lock until the tx ends.
func (r *Repository) LockByOrderIDTx(ctx context.Context, tx *sqlx.Tx, orderID string) (*Transaction, error) {
	var t Transaction
	err := tx.GetContext(ctx, &t, `SELECT `+transactionColumns+` FROM payment_transactions WHERE order_id = $1 FOR UPDATE`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock transaction: %w", credit.ErrInternal, err)
	}
	return &t, nil
}

func (r *Repository) MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, paymentMethod string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $2, payment_method = NULLIF($3, ''), completed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, StatusCompleted, paymentMethod, now, StatusPending)
	if err != nil {
		return fmt.Errorf("%w: complete transaction: %w", credit.ErrInternal, err)
	}
	return nil
}

// Transition moves a pending transaction to status. ok is false when it was no longer pending.
func (r *Repository) Transition(ctx context.Context, orderID string, status Status) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $2, updated_at = NOW()
		WHERE order_id = $1 AND status = $3
	`, orderID, status, StatusPending)
	if err != nil {
		return false, fmt.Errorf("%w: update transaction status: %w", credit.ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", credit.ErrInternal, err)
	}
	return rows > 0, nil
}

// ExpirePending marks pending transactions created before cutoff as expired.
func (r *Repository) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < $3
	`, StatusExpired, StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: expire transactions: %w", credit.ErrInternal, err)
	}
	return result.RowsAffected()
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	items := make([]Transaction, 0)
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", credit.ErrInternal, err)
	}
	return items, nil
}
