package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/adgen/adgen-api/internal/domain/credit"
)

const staleBatchSize = 50

// Store applies job transitions together with their effect on the reservation.
type Store struct {
	repo   *Repository
	ledger credit.Ledger
}

func NewStore(repo *Repository, ledger credit.Ledger) *Store {
	return &Store{repo: repo, ledger: ledger}
}

func (s *Store) ClaimNext(ctx context.Context, workerID string, now time.Time) (*Job, error) {
	return s.repo.ClaimNext(ctx, workerID, now)
}

// Complete finishes the job and consumes its reservation in one transaction.
func (s *Store) Complete(ctx context.Context, job *Job, workerID string, out Output, now time.Time) error {
	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()

	if err := s.repo.CompleteTx(ctx, tx, job.ID, workerID, out, now); err != nil {
		return err
	}
	if err := s.ledger.ConsumeTx(ctx, tx, job.ReservationID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}

	job.Status = StatusCompleted
	job.ResultURL = out.URL
	job.ResultKey = out.Key
	job.FinishedAt = &now
	return nil
}

// Fail marks the job failed and refunds its reservation in one transaction.
func (s *Store) Fail(ctx context.Context, job *Job, workerID, reason string, now time.Time) error {
	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer tx.Rollback()

	if err := s.failTx(ctx, tx, job, workerID, reason, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}
	return nil
}

// FailStale fails and refunds jobs left in processing since before cutoff.
func (s *Store) FailStale(ctx context.Context, cutoff, now time.Time) ([]*Job, error) {
	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer tx.Rollback()

	jobs, err := s.repo.LockStaleTx(ctx, tx, cutoff, staleBatchSize)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		var workerID string
		if job.WorkerID != nil {
			workerID = *job.WorkerID
		}
		if err := s.failTx(ctx, tx, job, workerID, "generation timed out", now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}
	return jobs, nil
}

func (s *Store) failTx(ctx context.Context, tx *sqlx.Tx, job *Job, workerID, reason string, now time.Time) error {
	res, err := s.ledger.RefundTx(ctx, tx, job.UserID, job.ReservationID)
	if err != nil {
		return err
	}
	if err := s.repo.FailTx(ctx, tx, job.ID, workerID, reason, res.Refunded, now); err != nil {
		return err
	}

	job.Status = StatusFailed
	job.Error = &reason
	job.CreditRefunded = res.Refunded
	job.FinishedAt = &now
	return nil
}
