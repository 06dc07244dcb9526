package generation

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
	queryTimeout = 3 * time.Second

	jobColumns = `id, user_id, reservation_id, status, prompt, model, reference_images,
		result_url, result_key, error, credit_refunded, worker_id, created_at, started_at, finished_at`

	maxErrorLength = 2000
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

func (r *Repository) CreateTx(ctx context.Context, tx *sqlx.Tx, job *Job) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO generation_jobs (id, user_id, reservation_id, status, prompt, model, reference_images)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, job.ID, job.UserID, job.ReservationID, job.Status, job.Prompt, job.Model, job.ReferenceImages).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert job: %w", credit.ErrInternal, err)
	}
	return nil
}

// ClaimNext moves the oldest pending job to processing for workerID.
// Concurrent workers never claim the same row. Returns nil when the queue is empty.
func (r *Repository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var job Job
	err := r.db.GetContext(ctx, &job, `
		UPDATE generation_jobs
		SET status = $1, worker_id = $2, started_at = $3
		WHERE id = (
			SELECT id FROM generation_jobs
			WHERE status = $4
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns, StatusProcessing, workerID, now, StatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: claim job: %w", credit.ErrInternal, err)
	}
	return &job, nil
}

// CompleteTx finishes a job still held by workerID.
func (r *Repository) CompleteTx(ctx context.Context, tx *sqlx.Tx, jobID uuid.UUID, workerID string, out Output, now time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = $3, result_url = $4, result_key = $5, error = NULL, finished_at = $6
		WHERE id = $1 AND status = $7 AND worker_id = $2
	`, jobID, workerID, StatusCompleted, out.URL, out.Key, now, StatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: complete job: %w", credit.ErrInternal, err)
	}
	return requireOneRow(result)
}

// FailTx marks a job held by workerID as failed.
func (r *Repository) FailTx(ctx context.Context, tx *sqlx.Tx, jobID uuid.UUID, workerID, reason string, refunded bool, now time.Time) error {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = $3, error = $4, credit_refunded = $5, finished_at = $6
		WHERE id = $1 AND status = $7 AND worker_id = $2
	`, jobID, workerID, StatusFailed, reason, refunded, now, StatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: fail job: %w", credit.ErrInternal, err)
	}
	return requireOneRow(result)
}

// LockStaleTx locks processing jobs started before cutoff, skipping rows another reaper holds.
func (r *Repository) LockStaleTx(ctx context.Context, tx *sqlx.Tx, cutoff time.Time, limit int) ([]*Job, error) {
	jobs := make([]*Job, 0)
	err := tx.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`, StatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: lock stale jobs: %w", credit.ErrInternal, err)
	}
	return jobs, nil
}

func (r *Repository) GetForUser(ctx context.Context, jobID, userID uuid.UUID) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var job Job
	err := r.db.GetContext(ctx, &job, `
		SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 AND user_id = $2
	`, jobID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %w", credit.ErrInternal, err)
	}
	return &job, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, p Pagination) ([]*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	jobs := make([]*Job, 0)
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", credit.ErrInternal, err)
	}
	return jobs, nil
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", credit.ErrInternal, err)
	}
	if rows == 0 {
		return ErrClaimLost
	}
	return nil
}
