package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/adgen/adgen-api/internal/config"
	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/domain/generation"
	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/pkg/aigen"
	"github.com/adgen/adgen-api/internal/pkg/database"
	"github.com/adgen/adgen-api/internal/pkg/imaging"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	pkgresponse "github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/storage"
	"github.com/adgen/adgen-api/internal/pkg/tracing"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "generation-worker",
	})

	log.Info().Msg("Starting generation-worker")

	shutdownTracing, err := tracing.Init(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: "adgen-generation-worker",
		Environment: cfg.Env,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise tracing")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL, database.WorkerPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	store, err := storage.New(storageConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("Failed to create storage client")
	}

	settingsService := settings.NewService(settings.NewRepository(db), settings.Snapshot{
		FreeCredits:               cfg.FreeCredits,
		GenerationCooldownSeconds: cfg.GenerationCooldownSeconds,
		ReferralSignupBonus:       cfg.ReferralSignupBonus,
		ReferralCommissionPercent: cfg.ReferralCommissionPercent,
	})
	ledger := credit.NewService(credit.NewRepository(db), settingsService)

	jobs := generation.NewStore(generation.NewRepository(db), ledger)
	generator := aigen.NewClient(cfg.AIAPIURL, cfg.AIAPIKey, cfg.AITimeout)
	processor := imaging.NewProcessor(imaging.DefaultConfig())
	events := generation.NewRedisPublisher(rdb)

	ids := workerIDs(workerID(), cfg.WorkerConcurrency)
	workers := make([]*generation.Worker, 0, len(ids))
	for _, id := range ids {
		workers = append(workers, generation.NewWorker(jobs, generator, processor, store, events, rdb, generation.WorkerConfig{
			ID:              id,
			PollInterval:    cfg.WorkerPollInterval,
			GenerateTimeout: cfg.AITimeout,
			StaleAfter:      cfg.GenerationStaleAfter,
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := &http.Server{
		Addr:              ":" + cfg.WorkerHealthPort,
		Handler:           healthHandler(ids),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error { return workers[0].RunReaper(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", health.Addr).Msg("Health endpoint listening")
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("generation-worker exited with error")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("generation-worker stopped")
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.StorageDriver,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
		LocalPath: cfg.StorageLocalPath,
		LocalURL:  cfg.StorageLocalURL,
	}
}

// workerID is stable enough for logs and unique across replicas on one host.
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// workerIDs names each poll loop of this process after the process id.
func workerIDs(base string, n int) []string {
	if n < 1 {
		n = 1
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", base, i+1)
	}
	return ids
}

func healthHandler(ids []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]interface{}{
			"status":  "ok",
			"workers": ids,
		})
	})
	return mux
}
