package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/eventpass-backend/api/controllers"
	"github.com/angelmondragon/eventpass-backend/api/routes"
	"github.com/angelmondragon/eventpass-backend/internal/app"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
)

const shutdownTimeout = 15 * time.Second

func main() {
	bootCtx := context.Background()
	rt, err := app.Boot(bootCtx, app.BootOptions{Kind: "api", Redis: true})
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

	tokens, err := auth.NewVerifier(cfg.JWT)
	rt.Must(bootCtx, "token verifier", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = logg.WithField(ctx, "addr", addr)

	go services.ListenFeeConfig(ctx, logg)

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, rt.Redis, routes.Services{
			Payments:     services.Payments,
			Reservations: services.Reservations,
			Fees:         services.Fees,
			Payouts:      services.Payouts,
			Reconciler:   services.Reconciler,
			Gateway:      services.Gateway,
			DeadLetters:  services.DeadLetters,
			Tokens:       tokens,
		}, map[string]controllers.Pinger{
			"db":    rt.DB,
			"redis": rt.Redis,
		}, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		cancel()
		logg.Info(ctx, "api server shut down gracefully")
	}
	if err := rt.Close(); err != nil {
		logg.Error(ctx, "shutdown cleanup", err)
	}
	os.Exit(exitCode)
}
