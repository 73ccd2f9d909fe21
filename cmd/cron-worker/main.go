package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/eventpass-backend/internal/app"
	"github.com/angelmondragon/eventpass-backend/internal/cron"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
)

func main() {
	bootCtx := context.Background()
	rt, err := app.Boot(bootCtx, app.BootOptions{Kind: "cron-worker", Redis: true})
	rt.Must(bootCtx, "boot", err)
	cfg, logg := rt.Config, rt.Logger

	services, err := app.NewServices(app.Deps{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Redis:      rt.Redis,
		Registerer: prometheus.DefaultRegisterer,
	})
	rt.Must(bootCtx, "domain services", err)

	lock, err := cron.NewRedisLock(rt.Redis, cfg.Cron.LockTTL)
	rt.Must(bootCtx, "cron lock", err)
	registry, err := buildRegistry(cfg, logg, rt.DB, services)
	rt.Must(bootCtx, "cron registry", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL * 4 / 5,
	})
	rt.Must(bootCtx, "cron service", err)

	ctx, stop := rt.SignalContext()
	defer stop()
	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")

	go services.ListenFeeConfig(ctx, logg)

	runErr := service.Run(ctx)
	if err := rt.Close(); err != nil {
		logg.Error(ctx, "shutdown cleanup", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", runErr)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *app.Services) (*cron.Registry, error) {
	orderExpiry, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{Logger: logg, Reconciler: services.Reconciler})
	if err != nil {
		return nil, err
	}
	holdExpiry, err := cron.NewHoldExpiryJob(cron.HoldExpiryJobParams{
		Logger:       logg,
		Reservations: services.Reservations,
		BatchSize:    cfg.Payments.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	statusPoll, err := cron.NewOrderStatusPollJob(cron.OrderStatusPollJobParams{Logger: logg, Reconciler: services.Reconciler})
	if err != nil {
		return nil, err
	}
	backfill, err := cron.NewPayoutBackfillJob(cron.PayoutBackfillJobParams{
		Logger:    logg,
		Events:    services.Events,
		Payouts:   services.Payouts,
		BatchSize: cfg.Payments.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:          logg,
		DB:              dbClient,
		Outbox:          outbox.NewRepository(dbClient.DB()),
		DeadLetters:     outbox.NewDLQRepository(dbClient.DB()),
		OutboxRetention: cfg.Outbox.Retention,
		DLQRetention:    cfg.Outbox.DLQRetention,
	})
	if err != nil {
		return nil, err
	}
	// expiry runs first so polling only sees orders still inside their grace
	return cron.NewRegistry(orderExpiry, holdExpiry, statusPoll, backfill, retention)
}
