package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.IncPublished("payment_order_paid")
	m.IncFailed("payment_order_paid")
	m.IncDeadLettered("max_attempts")
	m.IncDeadLettered("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_event_published_total", "event_type", "payment_order_paid"); err != nil || got != 1 {
		t.Fatalf("expected published=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_event_dead_lettered_total", "reason", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unknown reason counted once, got %f (%v)", got, err)
	}
}
