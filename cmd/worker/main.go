package main

import (
	"context"
	"errors"
	"os"

	"github.com/angelmondragon/eventpass-backend/internal/app"
	"github.com/angelmondragon/eventpass-backend/internal/consumer"
	"github.com/angelmondragon/eventpass-backend/internal/eventfeed"
	"github.com/angelmondragon/eventpass-backend/internal/reporting"
	"github.com/angelmondragon/eventpass-backend/pkg/bigquery"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/eventpass-backend/pkg/pubsub"
)

var errSubscriptionMissing = errors.New("subscription not configured")

func main() {
	bootCtx := context.Background()
	rt, err := app.Boot(bootCtx, app.BootOptions{Kind: "worker", Redis: true})
	rt.Must(bootCtx, "boot", err)
	cfg, logg := rt.Config, rt.Logger

	pubsubClient, err := pubsub.NewClient(bootCtx, pubsub.WorkerOptions(cfg.GCP, cfg.PubSub), logg)
	rt.Must(bootCtx, "pubsub", err)
	rt.OnClose("pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(bootCtx, cfg.GCP, cfg.BigQuery, logg)
	rt.Must(bootCtx, "bigquery", err)
	rt.OnClose("bigquery", bqClient.Close)

	services, err := app.NewServices(app.Deps{Config: cfg, Logger: logg, DB: rt.DB, Redis: rt.Redis})
	rt.Must(bootCtx, "domain services", err)

	ledger, err := idempotency.NewLedger(rt.Redis, cfg.Eventing.OutboxIdempotencyTTL)
	rt.Must(bootCtx, "idempotency ledger", err)

	completedHandler, err := eventfeed.NewHandler(services.Events, services.Payouts, logg)
	rt.Must(bootCtx, "event completion handler", err)
	lifecycleSub := pubsubClient.Subscriber(cfg.PubSub.EventLifecycleSub)
	if lifecycleSub == nil {
		rt.Must(bootCtx, "event lifecycle subscription", errSubscriptionMissing)
	}
	completedConsumer, err := consumer.NewService(eventfeed.ConsumerName, lifecycleSub, completedHandler, ledger, logg)
	rt.Must(bootCtx, "event completion consumer", err)

	reportingHandler, err := reporting.NewHandler(bqClient, bqClient.PayoutSnapshotsTable(), logg)
	rt.Must(bootCtx, "reporting handler", err)
	reportingSub := pubsubClient.Subscriber(cfg.PubSub.ReportingSub)
	if reportingSub == nil {
		rt.Must(bootCtx, "reporting subscription", errSubscriptionMissing)
	}
	reportingConsumer, err := consumer.NewService(reporting.ConsumerName, reportingSub, reportingHandler, ledger, logg)
	rt.Must(bootCtx, "reporting consumer", err)

	service, err := NewService(ServiceParams{
		Logger: logg,
		Pingers: map[string]pinger{
			"database": rt.DB,
			"redis":    rt.Redis,
			"pubsub":   pubsubClient,
			"bigquery": bqClient,
		},
		Consumers: []runner{completedConsumer, reportingConsumer},
	})
	rt.Must(bootCtx, "worker service", err)

	ctx, stop := rt.SignalContext()
	defer stop()
	logg.Info(ctx, "starting worker")

	go services.ListenFeeConfig(ctx, logg)

	runErr := service.Run(ctx)
	if err := rt.Close(); err != nil {
		logg.Error(ctx, "shutdown cleanup", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", runErr)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shut down gracefully")
}
