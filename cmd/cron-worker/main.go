package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/craftlinehq/craftline-backend/internal/consultations"
	"github.com/craftlinehq/craftline-backend/internal/cron"
	"github.com/craftlinehq/craftline-backend/internal/ledger"
	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/internal/payments"
	"github.com/craftlinehq/craftline-backend/internal/payouts"
	"github.com/craftlinehq/craftline-backend/pkg/config"
	"github.com/craftlinehq/craftline-backend/pkg/db"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
	"github.com/craftlinehq/craftline-backend/pkg/metrics"
	"github.com/craftlinehq/craftline-backend/pkg/migrate"
	"github.com/craftlinehq/craftline-backend/pkg/redis"
	"github.com/craftlinehq/craftline-backend/pkg/stripe"
)

const lockKeyFormat = "cl:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	dispatcher, err := notifications.NewRecorder(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create notification recorder", err)
		os.Exit(1)
	}

	paymentsManager, err := payments.NewManager(
		payments.NewRepository(dbClient.DB()),
		dbClient,
		payments.NewStripeProcessor(stripeClient),
		cfg.Escrow,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments manager", err)
		os.Exit(1)
	}

	consultationsService, err := consultations.NewService(consultations.NewRepository(dbClient.DB()), dbClient, dispatcher, cfg.Escrow, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create consultations service", err)
		os.Exit(1)
	}

	payoutsService, err := payouts.NewService(
		payouts.NewRepository(dbClient.DB()),
		dbClient,
		ledger.NewStore(dbClient.DB()),
		dispatcher,
		cfg.Escrow,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

	payoutJob, err := cron.NewPayoutSweepJob(cron.PayoutSweepJobParams{
		Logger:  logg,
		Payouts: payoutsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout sweep job", err)
		os.Exit(1)
	}

	consultationJob, err := cron.NewConsultationTimeoutJob(cron.ConsultationTimeoutJobParams{
		Logger:        logg,
		Consultations: consultationsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create consultation timeout job", err)
		os.Exit(1)
	}

	authorizationJob, err := cron.NewAuthorizationExpiryJob(cron.AuthorizationExpiryJobParams{
		Logger:     logg,
		Payments:   paymentsManager,
		Dispatcher: dispatcher,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create authorization expiry job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(payoutJob, consultationJob, authorizationJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
