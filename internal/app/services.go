// Package app assembles the payment core services shared by every binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/eventpass-backend/internal/events"
	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/internal/gateway/payu"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/internal/payouts"
	"github.com/angelmondragon/eventpass-backend/internal/reconcile"
	"github.com/angelmondragon/eventpass-backend/internal/reservations"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/redis"
)

// FeeConfigChannel is the pub/sub channel carrying fee cache invalidations.
const FeeConfigChannel = "fee_config:invalidate"

// Deps are the process-level clients every binary bootstraps first.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	HTTPClient *http.Client
}

// Services groups the wired domain services.
type Services struct {
	Events       events.Repository
	FeeProvider  *fees.Provider
	Fees         fees.Service
	Reservations reservations.Service
	Orders       payments.Repository
	Payments     payments.Service
	Reconciler   reconcile.Service
	Payouts      payouts.Service
	Gateway      *payu.Adapter
	Outbox       *outbox.Service
	DeadLetters  *outbox.DeadLetters
	Metrics      *metrics.PaymentMetrics
}

// NewServices wires repositories, the gateway adapter and the domain services.
func NewServices(deps Deps) (*Services, error) {
	if deps.Config == nil || deps.Logger == nil || deps.DB == nil || deps.Redis == nil {
		return nil, fmt.Errorf("config, logger, db and redis are required")
	}
	cfg := deps.Config
	conn := deps.DB.DB()
	hc := deps.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Signer.Timeout}
	}

	paymentMetrics := metrics.NewPaymentMetrics(deps.Registerer)
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, deps.Logger)
	deadLetters, err := outbox.NewDeadLetters(deps.DB, outboxRepo, outbox.NewDLQRepository(conn), deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	eventsRepo := events.NewRepository(conn)
	orders := payments.NewRepository(conn)
	channel := deps.Redis.ChannelName(FeeConfigChannel)

	feeRepo := fees.NewRepository(conn)
	provider, err := fees.NewProvider(fees.ProviderParams{
		Source:   feeRepo,
		Listener: deps.Redis,
		Channel:  channel,
		Default:  cfg.Fees.DefaultPercentageDecimal(),
		Logger:   deps.Logger,
		Metrics:  paymentMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("fee provider: %w", err)
	}
	feeSvc, err := fees.NewService(fees.ServiceParams{
		Repo:      feeRepo,
		Tx:        deps.DB,
		Outbox:    outboxSvc,
		Cache:     provider,
		Publisher: deps.Redis,
		Channel:   channel,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("fee service: %w", err)
	}

	reservationSvc, err := reservations.NewService(reservations.ServiceParams{
		Repo:     reservations.NewRepository(conn),
		Events:   eventsRepo,
		Tx:       deps.DB,
		Outbox:   outboxSvc,
		Logger:   deps.Logger,
		HoldTTL:  cfg.Payments.HoldTTL,
		MaxSeats: cfg.Payments.MaxSeatsPerRequester,
	})
	if err != nil {
		return nil, fmt.Errorf("reservation service: %w", err)
	}

	signer, err := payu.NewHTTPSigner(cfg.Signer, hc)
	if err != nil {
		return nil, fmt.Errorf("gateway signer: %w", err)
	}
	adapter, err := payu.NewAdapter(cfg.PayU, signer, hc)
	if err != nil {
		return nil, fmt.Errorf("payu adapter: %w", err)
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:         orders,
		Events:       eventsRepo,
		Reservations: reservationSvc,
		Fees:         provider,
		Gateway:      adapter,
		Tx:           deps.DB,
		Outbox:       outboxSvc,
		Config:       cfg.Payments,
		Logger:       deps.Logger,
		Metrics:      paymentMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	reconciler, err := reconcile.NewService(reconcile.ServiceParams{
		Orders:        orders,
		Callbacks:     reconcile.NewCallbackRepository(conn),
		Reservations:  reservationSvc,
		Gateway:       adapter,
		Tx:            deps.DB,
		Outbox:        outboxSvc,
		Logger:        deps.Logger,
		Metrics:       paymentMetrics,
		PendingGrace:  cfg.Payments.PendingGrace,
		StatusPollAge: cfg.Cron.StatusPollAge,
		BatchSize:     cfg.Payments.SweepBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:   payouts.NewRepository(conn),
		Orders: orders,
		Events: eventsRepo,
		Fees:   provider,
		Tx:     deps.DB,
		Outbox: outboxSvc,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("payout service: %w", err)
	}

	return &Services{
		Events:       eventsRepo,
		FeeProvider:  provider,
		Fees:         feeSvc,
		Reservations: reservationSvc,
		Orders:       orders,
		Payments:     paymentSvc,
		Reconciler:   reconciler,
		Payouts:      payoutSvc,
		Gateway:      adapter,
		Outbox:       outboxSvc,
		DeadLetters:  deadLetters,
		Metrics:      paymentMetrics,
	}, nil
}

// ListenFeeConfig keeps the fee cache subscribed to invalidations until ctx
// ends. Binaries run it in its own goroutine.
func (s *Services) ListenFeeConfig(ctx context.Context, logg *logger.Logger) {
	if err := s.FeeProvider.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "fee config listener stopped", err)
	}
}
