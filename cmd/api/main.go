package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/jordanvale/loanbridge-backend/api/routes"
	"github.com/jordanvale/loanbridge-backend/internal/lifecycle"
	"github.com/jordanvale/loanbridge-backend/internal/loans"
	"github.com/jordanvale/loanbridge-backend/internal/notifications"
	"github.com/jordanvale/loanbridge-backend/internal/transactions"
	"github.com/jordanvale/loanbridge-backend/pkg/config"
	"github.com/jordanvale/loanbridge-backend/pkg/db"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
	"github.com/jordanvale/loanbridge-backend/pkg/migrate"
	"github.com/jordanvale/loanbridge-backend/pkg/processor"
	"github.com/jordanvale/loanbridge-backend/pkg/pubsub"
	"github.com/jordanvale/loanbridge-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	var notifier lifecycle.Notifier
	if cfg.GCP.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()

		dispatcher, err := notifications.NewDispatcher(notifications.NewTopicPublisher(pubsubClient.EventsPublisher()), logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create event dispatcher", err)
			os.Exit(1)
		}
		notifier = dispatcher
	} else {
		logg.Warn(context.Background(), "pubsub not configured; payment events will not be published")
	}

	ledger, err := transactions.NewLedger(transactions.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create transactions ledger", err)
		os.Exit(1)
	}

	loanService, err := loans.NewService(loans.NewRepository(dbClient.DB()), ledger)
	if err != nil {
		logg.Error(context.Background(), "failed to create loans service", err)
		os.Exit(1)
	}

	lifecycleService, err := lifecycle.NewService(lifecycle.Params{
		Runner:   dbClient,
		Loans:    loanService,
		Ledger:   ledger,
		Gateway:  processorClient,
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment lifecycle service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"instance":  id,
		"processor": processorClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, loanService, ledger, lifecycleService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
