package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/adgen/adgen-api/internal/pkg/aigen"
	"github.com/adgen/adgen-api/internal/pkg/imaging"
	"github.com/adgen/adgen-api/internal/pkg/storage"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultGenerateTimeout = 2 * time.Minute
	defaultStaleAfter      = 10 * time.Minute
	settleTimeout          = 10 * time.Second
)

// Generator produces an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, req aigen.Request) (*aigen.Result, error)
}

// ImageProcessor normalises generated bytes before upload.
type ImageProcessor interface {
	Process(data []byte) (*imaging.ProcessedImage, error)
}

// Publisher pushes job events to their owner.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// JobStore is the transactional job surface the worker drives.
type JobStore interface {
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*Job, error)
	Complete(ctx context.Context, job *Job, workerID string, out Output, now time.Time) error
	Fail(ctx context.Context, job *Job, workerID, reason string, now time.Time) error
	FailStale(ctx context.Context, cutoff, now time.Time) ([]*Job, error)
}

type WorkerConfig struct {
	ID              string
	PollInterval    time.Duration
	GenerateTimeout time.Duration
	StaleAfter      time.Duration
}

// Worker claims pending jobs, runs them against the AI API and settles their credit.
type Worker struct {
	jobs      JobStore
	generator Generator
	images    ImageProcessor
	storage   storage.Storage
	events    Publisher
	redis     *redis.Client
	cfg       WorkerConfig
	now       func() time.Time
}

// NewWorker builds a worker. redisClient may be nil; the worker then only polls.
func NewWorker(jobs JobStore, generator Generator, images ImageProcessor, st storage.Storage, events Publisher, redisClient *redis.Client, cfg WorkerConfig) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.NewString()[:8]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return &Worker{
		jobs:      jobs,
		generator: generator,
		images:    images,
		storage:   st,
		events:    events,
		redis:     redisClient,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) ID() string {
	return w.cfg.ID
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Str("worker_id", w.cfg.ID).Dur("poll_interval", w.cfg.PollInterval).Msg("Generation worker started")

	wake := make(chan struct{}, 1)
	if w.redis != nil {
		go w.subscribeWakeups(ctx, wake)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			processed, err := w.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Str("worker_id", w.cfg.ID).Msg("Failed to claim generation job")
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			log.Info().Str("worker_id", w.cfg.ID).Msg("Generation worker stopped")
			return nil
		case <-wake:
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNext(ctx, w.cfg.ID, w.now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	ctx, span := tracer.Start(ctx, "generation.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID.String()),
		attribute.String("model", job.Model),
	)

	start := time.Now()
	w.publish(ctx, job)

	genCtx, cancel := context.WithTimeout(ctx, w.cfg.GenerateTimeout)
	result, err := w.generator.Generate(genCtx, aigen.Request{
		Model:           job.Model,
		Prompt:          job.Prompt,
		ReferenceImages: job.ReferenceImages,
	})
	cancel()

	var processed *imaging.ProcessedImage
	if err == nil {
		processed, err = w.images.Process(result.Data)
	}
	if err != nil {
		span.SetStatus(codes.Error, "upstream")
		w.fail(ctx, job, fmt.Errorf("%w: %w", ErrUpstreamFailure, err))
		return
	}

	out := w.upload(ctx, job, processed)

	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancelSettle()

	if err := w.jobs.Complete(settleCtx, job, w.cfg.ID, out, w.now()); err != nil {
		if errors.Is(err, ErrClaimLost) {
			log.Warn().Str("job_id", job.ID.String()).Msg("Generation job was reclaimed before completion")
			w.discard(settleCtx, out)
			return
		}
		span.SetStatus(codes.Error, "complete")
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to complete generation job")
		w.discard(settleCtx, out)
		w.fail(ctx, job, err)
		return
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("user_id", job.UserID.String()).
		Bool("stored", out.URL != nil).
		Dur("took", time.Since(start)).
		Msg("Generation completed")
	w.publish(settleCtx, job)
}

// upload stores the image and its thumbnail. A failed upload still lets the
// job complete without a result URL; the credit stays spent.
func (w *Worker) upload(ctx context.Context, job *Job, img *imaging.ProcessedImage) Output {
	ext := imaging.Extension(img.ContentType)
	key := fmt.Sprintf("generations/%s/%s%s", job.UserID, job.ID, ext)
	thumbKey := fmt.Sprintf("generations/%s/%s_thumb%s", job.UserID, job.ID, ext)

	if err := w.storage.Put(ctx, key, bytes.NewReader(img.Original), img.ContentType); err != nil {
		log.Error().Err(fmt.Errorf("%w: %w", ErrStorageFailure, err)).Str("job_id", job.ID.String()).Msg("Generated image upload failed")
		return Output{}
	}
	if err := w.storage.Put(ctx, thumbKey, bytes.NewReader(img.Thumbnail), img.ContentType); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Thumbnail upload failed")
	}

	url := w.storage.GetURL(key)
	return Output{URL: &url, Key: &key}
}

func (w *Worker) discard(ctx context.Context, out Output) {
	if out.Key == nil {
		return
	}
	if err := w.storage.Delete(ctx, *out.Key); err != nil {
		log.Warn().Err(err).Str("key", *out.Key).Msg("Failed to delete orphaned generation output")
	}
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	reason := "generation failed"
	if errors.Is(cause, aigen.ErrTimeout) {
		reason = "generation timed out"
	}

	if err := w.jobs.Fail(settleCtx, job, w.cfg.ID, reason, w.now()); err != nil {
		if errors.Is(err, ErrClaimLost) {
			log.Warn().Str("job_id", job.ID.String()).Msg("Generation job was reclaimed before failing")
			return
		}
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to fail generation job")
		return
	}

	log.Warn().
		Err(cause).
		Str("job_id", job.ID.String()).
		Str("user_id", job.UserID.String()).
		Bool("credit_refunded", job.CreditRefunded).
		Msg("Generation failed")
	w.publish(settleCtx, job)
}

// Reap fails jobs stuck in processing longer than StaleAfter and refunds them.
func (w *Worker) Reap(ctx context.Context) (int, error) {
	now := w.now()
	jobs, err := w.jobs.FailStale(ctx, now.Add(-w.cfg.StaleAfter), now)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.publish(ctx, job)
	}
	return len(jobs), nil
}

// RunReaper calls Reap periodically until ctx is cancelled.
func (w *Worker) RunReaper(ctx context.Context) error {
	interval := w.cfg.StaleAfter / 2
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		count, err := w.Reap(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to reap stale generation jobs")
		}
		if count > 0 {
			log.Warn().Int("count", count).Msg("Failed stale generation jobs")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) publish(ctx context.Context, job *Job) {
	if w.events == nil {
		return
	}
	w.events.Publish(ctx, EventFor(job, w.now()))
}

func (w *Worker) subscribeWakeups(ctx context.Context, wake chan<- struct{}) {
	sub := w.redis.Subscribe(ctx, JobsChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
