package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	queryTimeout = 3 * time.Second

	// admissionAttempts bounds the retries when the row changed between the
	// conditional update and the read that explains its failure.
	admissionAttempts = 3
)

// Repository is the ledger store. Every balance change is one conditional
// statement on the users row plus a credit_transactions row in the same transaction.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Begin starts a transaction bounded by the repository query timeout.
func (r *Repository) Begin(ctx context.Context) (*sqlx.Tx, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: begin tx: %w", ErrInternal, err)
	}
	return tx, cancel, nil
}

// ReserveTx deducts one credit and stamps last_generation_at in a single
// conditional update. Nothing is written when any admission rule fails.
func (r *Repository) ReserveTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, now time.Time, cooldown time.Duration) (*Reservation, error) {
	for attempt := 0; attempt < admissionAttempts; attempt++ {
		var balance int
		err := tx.QueryRowxContext(ctx, `
			UPDATE users
			SET credit_balance = credit_balance - 1,
			    last_generation_at = $2,
			    updated_at = $2
			WHERE id = $1
			  AND email_verified
			  AND credit_balance >= 1
			  AND ($3::double precision <= 0
			       OR last_generation_at IS NULL
			       OR last_generation_at <= $2::timestamptz - ($3::double precision * INTERVAL '1 second'))
			RETURNING credit_balance
		`, userID, now, cooldown.Seconds()).Scan(&balance)

		if err == nil {
			res := &Reservation{ID: uuid.New(), UserID: userID, Balance: balance}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO credit_reservations (id, user_id, status, created_at)
				VALUES ($1, $2, $3, $4)
			`, res.ID, userID, ReservationReserved, now); err != nil {
				return nil, fmt.Errorf("%w: insert reservation: %w", ErrInternal, err)
			}
			if err := insertLedger(ctx, tx, userID, -1, TxTypeDeduction, TxMeta{
				RelatedEntityType: "reservation",
				RelatedEntityID:   res.ID.String(),
				Description:       "generation credit reserved",
			}); err != nil {
				return nil, err
			}
			return res, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: reserve credit: %w", ErrInternal, err)
		}

		var st admissionState
		err = tx.GetContext(ctx, &st, `
			SELECT email_verified, credit_balance, last_generation_at
			FROM users
			WHERE id = $1
		`, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read admission state: %w", ErrInternal, err)
		}

		if reason := explainRejection(st, now, cooldown); reason != nil {
			return nil, reason
		}
	}
	return nil, ErrConflict
}

// RefundTx settles a reservation as refunded and returns its credit.
// Refunding an already refunded reservation changes nothing.
func (r *Repository) RefundTx(ctx context.Context, tx *sqlx.Tx, userID, reservationID uuid.UUID, now time.Time) (*RefundResult, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE credit_reservations
		SET status = $3, settled_at = $4
		WHERE id = $1 AND user_id = $2 AND status = $5
	`, reservationID, userID, ReservationRefunded, now, ReservationReserved)
	if err != nil {
		return nil, fmt.Errorf("%w: settle reservation: %w", ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected: %w", ErrInternal, err)
	}

	if rows == 0 {
		var status ReservationStatus
		err := tx.GetContext(ctx, &status, `
			SELECT status FROM credit_reservations WHERE id = $1 AND user_id = $2
		`, reservationID, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read reservation: %w", ErrInternal, err)
		}
		if status != ReservationRefunded {
			return nil, ErrReservationSettled
		}

		balance, err := balanceTx(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		return &RefundResult{Balance: balance, Refunded: false}, nil
	}

	balance, err := r.CreditTx(ctx, tx, userID, 1, TxTypeRefund, TxMeta{
		RelatedEntityType: "reservation",
		RelatedEntityID:   reservationID.String(),
		Description:       "generation credit refunded",
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{Balance: balance, Refunded: true}, nil
}

// HoldTx hands the reservation to holder. Held reservations are settled by
// their holder only.
func (r *Repository) HoldTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, holder string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE credit_reservations
		SET held_by = $2
		WHERE id = $1 AND status = $3
	`, reservationID, holder, ReservationReserved)
	if err != nil {
		return fmt.Errorf("%w: hold reservation: %w", ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrInternal, err)
	}
	if rows == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// HolderTx returns who holds the caller's unsettled reservation, or "" when
// nobody does or it is already settled.
func (r *Repository) HolderTx(ctx context.Context, tx *sqlx.Tx, userID, reservationID uuid.UUID) (string, error) {
	var holder sql.NullString
	err := tx.GetContext(ctx, &holder, `
		SELECT CASE WHEN status = $3 THEN held_by END
		FROM credit_reservations
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, reservationID, userID, ReservationReserved)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrReservationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: read reservation holder: %w", ErrInternal, err)
	}
	return holder.String, nil
}

// ConsumeTx marks a reservation as spent by a successful generation.
func (r *Repository) ConsumeTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, now time.Time) error {
	var status ReservationStatus
	err := tx.GetContext(ctx, &status, `
		UPDATE credit_reservations AS cr
		SET status = CASE WHEN cr.status = $3 THEN $2 ELSE cr.status END,
		    settled_at = CASE WHEN cr.status = $3 THEN $4 ELSE cr.settled_at END
		WHERE cr.id = $1
		RETURNING cr.status
	`, reservationID, ReservationConsumed, ReservationReserved, now)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: consume reservation: %w", ErrInternal, err)
	}
	if status != ReservationConsumed {
		return ErrReservationSettled
	}
	return nil
}

// CreditTx adds amount to the balance and writes the ledger row. Returns the new balance.
func (r *Repository) CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, txType TxType, meta TxMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := tx.QueryRowxContext(ctx, `
		UPDATE users
		SET credit_balance = credit_balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credit_balance
	`, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: update user balance: %w", ErrInternal, err)
	}

	if err := insertLedger(ctx, tx, userID, amount, txType, meta); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := r.db.GetContext(ctx, &balance, `SELECT credit_balance FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get balance: %w", ErrInternal, err)
	}
	return balance, nil
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]CreditTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := pagination.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	transactions := make([]CreditTransaction, 0)
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT id, user_id, amount_delta, tx_type, related_entity_type, related_entity_id, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, pagination.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", ErrInternal, err)
	}
	return transactions, nil
}

func balanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int, error) {
	var balance int
	err := tx.GetContext(ctx, &balance, `SELECT credit_balance FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read balance: %w", ErrInternal, err)
	}
	return balance, nil
}

func insertLedger(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amountDelta int, txType TxType, meta TxMeta) error {
	if !txType.Valid() {
		return fmt.Errorf("%w: unknown tx type %q", ErrInternal, txType)
	}
	if strings.TrimSpace(meta.Description) == "" {
		meta.Description = "credit balance adjustment"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, amount_delta, tx_type, related_entity_type, related_entity_id, description)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
	`, userID, amountDelta, txType, meta.RelatedEntityType, meta.RelatedEntityID, meta.Description)
	if err != nil {
		return fmt.Errorf("%w: insert transaction: %w", ErrInternal, err)
	}
	return nil
}
