package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordanvale/loanbridge-backend/internal/cron"
	"github.com/jordanvale/loanbridge-backend/internal/lifecycle"
	"github.com/jordanvale/loanbridge-backend/internal/loans"
	"github.com/jordanvale/loanbridge-backend/internal/transactions"
	"github.com/jordanvale/loanbridge-backend/pkg/config"
	"github.com/jordanvale/loanbridge-backend/pkg/db"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
	"github.com/jordanvale/loanbridge-backend/pkg/metrics"
	"github.com/jordanvale/loanbridge-backend/pkg/migrate"
	"github.com/jordanvale/loanbridge-backend/pkg/processor"
	"github.com/jordanvale/loanbridge-backend/pkg/redis"
)

const lockKeyFormat = "lb:cron-worker:lock:%s"

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

	processorClient, err := processor.NewClient(context.Background(), cfg.Processor, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payment processor client", err)
		os.Exit(1)
	}

	transactionsRepo := transactions.NewRepository(dbClient.DB())
	ledger, err := transactions.NewLedger(transactionsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create transactions ledger", err)
		os.Exit(1)
	}
	loanService, err := loans.NewService(loans.NewRepository(dbClient.DB()), ledger)
	if err != nil {
		logg.Error(context.Background(), "failed to create loans service", err)
		os.Exit(1)
	}

	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)
	lifecycleService, err := lifecycle.NewService(lifecycle.Params{
		Runner:  dbClient,
		Loans:   loanService,
		Ledger:  ledger,
		Gateway: processorClient,
		Logger:  logg,
		Metrics: reconcileMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment lifecycle service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:    logg,
		Repo:      transactionsRepo,
		Gateway:   processorClient,
		Lifecycle: lifecycleService,
		Limit:     cfg.Reconcile.Limit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconcile job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(reconcileJob)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Reconcile.Interval,
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
		"interval":    cfg.Reconcile.Interval.String(),
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
