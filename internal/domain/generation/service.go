package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/tracing"
)

const (
	// JobsChannel wakes idle workers when a job is queued.
	JobsChannel = "generation:jobs"

	maxReferenceImages = 4

	// ReservationHolder marks reservations settled only by the worker.
	ReservationHolder = "generation_job"
)

var tracer = tracing.Tracer("generation")

type Service struct {
	repo         *Repository
	ledger       credit.Ledger
	redis        *redis.Client
	defaultModel string
}

// NewService wires job submission. redisClient may be nil; workers then rely on polling.
func NewService(repo *Repository, ledger credit.Ledger, redisClient *redis.Client, defaultModel string) *Service {
	return &Service{repo: repo, ledger: ledger, redis: redisClient, defaultModel: defaultModel}
}

// Submit reserves one credit and queues the job in the same transaction.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, in SubmitInput) (*Submission, error) {
	ctx, span := tracer.Start(ctx, "generation.submit")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID.String()))

	job, err := s.newJob(userID, in)
	if err != nil {
		return nil, err
	}

	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer tx.Rollback()

	res, err := s.ledger.ReserveTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	job.ReservationID = res.ID
	if err := s.ledger.HoldTx(ctx, tx, res.ID, ReservationHolder); err != nil {
		return nil, err
	}

	if err := s.repo.CreateTx(ctx, tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}

	span.SetAttributes(attribute.String("job_id", job.ID.String()))
	logger.LogInfo(ctx, "generation queued", "user_id", userID.String(), "job_id", job.ID.String(), "model", job.Model)
	s.wakeWorkers(ctx, job.ID)

	return &Submission{
		JobID:         job.ID,
		ReservationID: res.ID,
		Status:        job.Status,
		Balance:       res.Balance,
	}, nil
}

func (s *Service) newJob(userID uuid.UUID, in SubmitInput) (*Job, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, ErrInvalidPrompt
	}
	if len(in.ReferenceImages) > maxReferenceImages {
		return nil, ErrTooManyReferences
	}

	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.defaultModel
	}

	refs := make(pq.StringArray, 0, len(in.ReferenceImages))
	for _, ref := range in.ReferenceImages {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}

	return &Job{
		ID:              uuid.New(),
		UserID:          userID,
		Status:          StatusPending,
		Prompt:          prompt,
		Model:           model,
		ReferenceImages: refs,
	}, nil
}

func (s *Service) wakeWorkers(ctx context.Context, jobID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Publish(ctx, JobsChannel, jobID.String()).Err(); err != nil {
		logger.LogWarn(ctx, "worker wake-up publish failed", "job_id", jobID.String(), "error", err.Error())
	}
}

func (s *Service) Get(ctx context.Context, userID, jobID uuid.UUID) (*Job, error) {
	return s.repo.GetForUser(ctx, jobID, userID)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, p Pagination) ([]*Job, error) {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return s.repo.ListByUser(ctx, userID, p)
}
