package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/eventpass-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/eventpass-backend/api/controllers/admin"
	paymentcontrollers "github.com/angelmondragon/eventpass-backend/api/controllers/payments"
	payoutcontrollers "github.com/angelmondragon/eventpass-backend/api/controllers/payouts"
	reservationcontrollers "github.com/angelmondragon/eventpass-backend/api/controllers/reservations"
	webhookcontrollers "github.com/angelmondragon/eventpass-backend/api/controllers/webhooks"
	"github.com/angelmondragon/eventpass-backend/api/middleware"
	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/internal/payouts"
	"github.com/angelmondragon/eventpass-backend/internal/reconcile"
	"github.com/angelmondragon/eventpass-backend/internal/reservations"
	pkgAuth "github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/eventpass-backend/pkg/redis"
)

// RequestStore backs idempotency replay and rate limiting.
type RequestStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Services are the domain services the HTTP surface exposes.
type Services struct {
	Payments     payments.Service
	Reservations reservations.Service
	Fees         fees.Service
	Payouts      payouts.Service
	Reconciler   reconcile.Service
	Gateway      gateway.Adapter
	DeadLetters  admincontrollers.DeadLetterStore
	Tokens       *pkgAuth.Verifier
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	store RequestStore,
	svcs Services,
	health map[string]controllers.Pinger,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	orderCreatePolicy := middleware.NewRateLimitPolicy(
		"order_create",
		cfg.API.OrderCreateWindow,
		cfg.API.OrderCreateLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, health))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks/payu", func(r chi.Router) {
		callback := webhookcontrollers.PayUCallback(svcs.Gateway, svcs.Reconciler, logg)
		r.Post("/success", callback)
		r.Post("/failure", callback)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(svcs.Tokens, logg))

		optional := middleware.Idempotent(middleware.IdempotencyOptional, store, logg)
		required := middleware.Idempotent(middleware.IdempotencyRequired, store, logg)
		money := middleware.Idempotent(middleware.IdempotencyMoney, store, logg)
		moneyRequired := middleware.Idempotent(middleware.IdempotencyMoneyRequired, store, logg)

		r.Route("/payments/orders", func(r chi.Router) {
			r.With(middleware.RateLimit(orderCreatePolicy, store, logg), optional).
				Post("/", paymentcontrollers.CreateOrder(svcs.Payments, logg))
			r.Get("/{orderId}", paymentcontrollers.GetOrder(svcs.Payments, logg))
			r.With(optional).Post("/{orderId}/redirect", paymentcontrollers.ResumeOrder(svcs.Payments, logg))
		})

		r.Route("/events/{eventId}", func(r chi.Router) {
			r.With(optional).Post("/reservations", reservationcontrollers.Hold(svcs.Reservations, logg))
			r.With(money).Post("/payout-requests", payoutcontrollers.RequestPayout(svcs.Payouts, logg))
			r.Get("/payout-summary", payoutcontrollers.Summary(svcs.Payouts, logg))
		})

		r.Route("/reservations/{reservationKey}", func(r chi.Router) {
			r.Get("/", reservationcontrollers.Get(svcs.Reservations, logg))
			r.With(optional).Post("/cancel", reservationcontrollers.Cancel(svcs.Reservations, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireStaff(logg))
			r.Get("/fee-config", admincontrollers.CurrentFeeConfig(svcs.Fees, logg))
			r.With(required).Put("/fee-config", admincontrollers.UpdateFeeConfig(svcs.Fees, logg))
			r.Get("/fee-config/history", admincontrollers.FeeConfigHistory(svcs.Fees, logg))
			r.Get("/gateway-callbacks", admincontrollers.GatewayCallbacks(svcs.Reconciler, logg))
			r.With(moneyRequired).Post("/payments/orders/{orderId}/refund", paymentcontrollers.RefundOrder(svcs.Payments, logg))
			r.With(required).Post("/events/{eventId}/payout-snapshot/rebuild", payoutcontrollers.RebuildSnapshot(svcs.Payouts, logg))
			r.Get("/outbox/dead-letters", admincontrollers.DeadLetters(svcs.DeadLetters, logg))
			r.With(required).Post("/outbox/dead-letters/{deadLetterId}/replay", admincontrollers.ReplayDeadLetter(svcs.DeadLetters, logg))
		})
	})

	return r
}
