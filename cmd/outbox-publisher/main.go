package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/eventpass-backend/internal/app"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/registry"
	"github.com/angelmondragon/eventpass-backend/pkg/pubsub"
)

func main() {
	bootCtx := context.Background()
	rt, err := app.Boot(bootCtx, app.BootOptions{Kind: "outbox-publisher"})
	rt.Must(bootCtx, "boot", err)
	cfg, logg := rt.Config, rt.Logger

	pubsubClient, err := pubsub.NewClient(bootCtx, pubsub.PublisherOptions(cfg.GCP, cfg.PubSub), logg)
	rt.Must(bootCtx, "pubsub", err)
	rt.OnClose("pubsub", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	rt.Must(bootCtx, "event registry", err)

	conn := rt.DB.DB()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            rt.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(conn),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(conn),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	rt.Must(bootCtx, "outbox publisher", err)

	ctx, stop := rt.SignalContext()
	defer stop()
	logg.Info(ctx, "starting outbox publisher")

	runErr := service.Run(ctx)
	if err := rt.Close(); err != nil {
		logg.Error(ctx, "shutdown cleanup", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", runErr)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down gracefully")
}
