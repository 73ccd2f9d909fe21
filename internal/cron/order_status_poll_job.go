package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type pendingPoller interface {
	PollPending(ctx context.Context, now time.Time) (int, error)
}

type OrderStatusPollJobParams struct {
	Logger     *logger.Logger
	Reconciler pendingPoller
}

// NewOrderStatusPollJob asks the gateway for the outcome of pending orders
// whose callback never arrived.
func NewOrderStatusPollJob(params OrderStatusPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &orderStatusPollJob{logg: params.Logger, reconciler: params.Reconciler, now: time.Now}, nil
}

type orderStatusPollJob struct {
	logg       *logger.Logger
	reconciler pendingPoller
	now        func() time.Time
}

func (j *orderStatusPollJob) Name() string { return "order-status-poll" }

func (j *orderStatusPollJob) Run(ctx context.Context) error {
	applied, err := j.reconciler.PollPending(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("poll pending orders: %w", err)
	}
	if applied > 0 {
		j.logg.Info(j.logg.WithField(ctx, "applied", applied), "pending orders settled from gateway status")
	}
	return nil
}
