package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/tracing"
)

var tracer = tracing.Tracer("credit")

// Ledger is the transactional surface other domains use to move credits
// inside transactions they own.
type Ledger interface {
	ReserveTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*Reservation, error)
	RefundTx(ctx context.Context, tx *sqlx.Tx, userID, reservationID uuid.UUID) (*RefundResult, error)
	HoldTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, holder string) error
	ConsumeTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID) error
	CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, txType TxType, meta TxMeta) (int, error)
}

// Service implements admission control, refunds and balance reads.
type Service struct {
	repo     *Repository
	settings settings.Provider
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for cooldown checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo *Repository, provider settings.Provider, opts ...Option) *Service {
	s := &Service{repo: repo, settings: provider, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve is the admission check: it reserves one credit or explains why not.
func (s *Service) Reserve(ctx context.Context, userID uuid.UUID) (*Reservation, error) {
	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer tx.Rollback()

	res, err := s.ReserveTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", ErrInternal, err)
	}
	return res, nil
}

func (s *Service) ReserveTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "credit.reserve")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "settings")
		return nil, fmt.Errorf("%w: load settings: %w", ErrInternal, err)
	}

	res, err := s.repo.ReserveTx(ctx, tx, userID, s.now().UTC(), snap.Cooldown())
	if err != nil {
		span.SetAttributes(attribute.String("rejection", err.Error()))
		if IsRejection(err) {
			logger.LogDebug(ctx, "admission rejected", "user_id", userID.String(), "reason", err.Error())
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	logger.LogInfo(ctx, "credit reserved", "user_id", userID.String(), "reservation_id", res.ID.String(), "balance", res.Balance)
	return res, nil
}

// Refund returns the credit of a reservation the caller still owns outright.
// Safe to call repeatedly. Reservations held by a generation job are rejected
// with ErrReservationHeld; the job settles them.
func (s *Service) Refund(ctx context.Context, userID, reservationID uuid.UUID) (*RefundResult, error) {
	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer tx.Rollback()

	holder, err := s.repo.HolderTx(ctx, tx, userID, reservationID)
	if err != nil {
		return nil, err
	}
	if holder != "" {
		logger.LogWarn(ctx, "refund of held reservation rejected", "user_id", userID.String(), "reservation_id", reservationID.String(), "held_by", holder)
		return nil, ErrReservationHeld
	}

	res, err := s.RefundTx(ctx, tx, userID, reservationID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", ErrInternal, err)
	}
	return res, nil
}

func (s *Service) RefundTx(ctx context.Context, tx *sqlx.Tx, userID, reservationID uuid.UUID) (*RefundResult, error) {
	res, err := s.repo.RefundTx(ctx, tx, userID, reservationID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if res.Refunded {
		logger.LogInfo(ctx, "credit refunded", "user_id", userID.String(), "reservation_id", reservationID.String(), "balance", res.Balance)
	}
	return res, nil
}

func (s *Service) HoldTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID, holder string) error {
	return s.repo.HoldTx(ctx, tx, reservationID, holder)
}

func (s *Service) ConsumeTx(ctx context.Context, tx *sqlx.Tx, reservationID uuid.UUID) error {
	return s.repo.ConsumeTx(ctx, tx, reservationID, s.now().UTC())
}

func (s *Service) CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int, txType TxType, meta TxMeta) (int, error) {
	return s.repo.CreditTx(ctx, tx, userID, amount, txType, meta)
}

func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, pagination)
}

// IsRejection reports whether err is an expected admission outcome rather than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEmailNotVerified) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInsufficientCredits)
}
