package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics counts order creation, state transitions and gateway outcomes.
type PaymentMetrics struct {
	ordersCreated *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	callbacks     *prometheus.CounterVec
	redirects     *prometheus.CounterVec
	feeFallback   prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	ordersCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_order_create_total",
		Help: "Order creation attempts by result.",
	}, []string{"result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_order_transition_total",
		Help: "Applied payment order state transitions.",
	}, []string{"from", "to"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_callback_total",
		Help: "Gateway outcomes by source and reconciliation result.",
	}, []string{"source", "result"})
	redirects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_redirect_build_total",
		Help: "Gateway redirect construction attempts by result.",
	}, []string{"result"})
	feeFallback := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_config_fallback_total",
		Help: "Times the fee policy fell back to the last known good configuration.",
	})
	reg.MustRegister(ordersCreated, transitions, callbacks, redirects, feeFallback)
	return &PaymentMetrics{
		ordersCreated: ordersCreated,
		transitions:   transitions,
		callbacks:     callbacks,
		redirects:     redirects,
		feeFallback:   feeFallback,
	}
}

func (m *PaymentMetrics) IncOrderCreate(result string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *PaymentMetrics) IncCallback(source, result string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncRedirect(result string) {
	if m == nil || m.redirects == nil {
		return
	}
	m.redirects.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncFeeFallback() {
	if m == nil || m.feeFallback == nil {
		return
	}
	m.feeFallback.Inc()
}
