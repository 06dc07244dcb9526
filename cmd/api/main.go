package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/adgen/adgen-api/internal/config"
	"github.com/adgen/adgen-api/internal/domain/coupon"
	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/domain/generation"
	"github.com/adgen/adgen-api/internal/domain/payment"
	"github.com/adgen/adgen-api/internal/domain/referral"
	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/domain/user"
	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/database"
	"github.com/adgen/adgen-api/internal/pkg/jwt"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/paygate"
	pkgresponse "github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/tracing"
)

const serviceName = "adgen-api"

type handlers struct {
	user       *user.Handler
	credit     *credit.Handler
	coupon     *coupon.Handler
	referral   *referral.Handler
	payment    *payment.Handler
	generation *generation.Handler
	settings   *settings.Handler
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "api",
	})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting AdGen API")

	shutdownTracing, err := tracing.Init(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise tracing")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL, database.APIPool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	if err := database.Migrate(migrateCtx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	cancelMigrate()

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	packages, err := payment.ParsePackages(cfg.CreditPackages)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid CREDIT_PACKAGES")
	}

	if cfg.IsProduction() && cfg.JWTSecret == config.DefaultJWTSecret {
		log.Fatal().Msg("JWT_SECRET must be set in production")
	}
	jwtService := jwt.NewService(cfg.JWTSecret, 0)

	// ---------- Services ----------
	settingsService := settings.NewService(settings.NewRepository(db), settings.Snapshot{
		FreeCredits:               cfg.FreeCredits,
		GenerationCooldownSeconds: cfg.GenerationCooldownSeconds,
		ReferralSignupBonus:       cfg.ReferralSignupBonus,
		ReferralCommissionPercent: cfg.ReferralCommissionPercent,
	})

	creditService := credit.NewService(credit.NewRepository(db), settingsService)
	referralService := referral.NewService(referral.NewRepository(db), creditService, settingsService)
	couponService := coupon.NewService(coupon.NewRepository(db), creditService)
	userService := user.NewService(user.NewRepository(db), creditService, referralService, settingsService)

	gateway := paygate.NewClient(paygate.Config{
		BaseURL:       cfg.PaygateBaseURL,
		Project:       cfg.PaygateProject,
		APIKey:        cfg.PaygateAPIKey,
		WebhookSecret: cfg.PaygateWebhookSecret,
	})
	if cfg.PaygateWebhookSecret == "" {
		if cfg.IsProduction() {
			log.Fatal().Msg("PAYGATE_WEBHOOK_SECRET must be set in production")
		}
		log.Warn().Msg("PAYGATE_WEBHOOK_SECRET is empty, webhook signatures are not checked")
	}
	paymentService := payment.NewService(payment.NewRepository(db), creditService, referralService, gateway, settingsService, payment.Config{
		Packages:   packages,
		PendingTTL: cfg.PaymentPendingTTL,
	})

	generationService := generation.NewService(generation.NewRepository(db), creditService, redis, cfg.AIDefaultModel)

	// ---------- Background ----------
	hub := generation.NewHub(redis)
	go hub.Run()
	defer hub.Shutdown()

	expireWorker := payment.NewExpireWorker(paymentService, 15*time.Minute)
	expireWorker.Start()

	// ---------- Router ----------
	h := handlers{
		user:       user.NewHandler(userService),
		credit:     credit.NewHandler(creditService),
		coupon:     coupon.NewHandler(couponService),
		referral:   referral.NewHandler(referralService),
		payment:    payment.NewHandler(paymentService),
		generation: generation.NewHandler(generationService, hub, cfg.AllowedOrigins),
		settings:   settings.NewHandler(settingsService),
	}
	r := newRouter(cfg, middleware.Auth(jwtService), h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	expireWorker.Stop()
	if err := shutdownTracing(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Server exited properly")
}

func newRouter(cfg *config.Config, authMiddleware func(http.Handler) http.Handler, h handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/account", h.user.Routes(authMiddleware))
		r.Mount("/credits", h.credit.Routes(authMiddleware))
		r.Mount("/coupons", h.coupon.Routes(authMiddleware))
		r.Mount("/referrals", h.referral.Routes(authMiddleware))
		r.Mount("/payments", h.payment.Routes(authMiddleware))
		r.Mount("/generations", h.generation.Routes(authMiddleware))
	})

	r.Post("/webhooks/payments", h.payment.Webhook)
	internalOnly := middleware.InternalToken(cfg.InternalEventsToken)
	r.Mount("/internal/events", h.user.EventRoutes(internalOnly))
	r.Mount("/internal/settings", h.settings.Routes(internalOnly))

	if cfg.StorageDriver == "local" {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.StorageLocalPath)))
		r.Handle("/files/*", files)
	}

	return r
}
