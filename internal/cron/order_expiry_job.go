package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/eventpass-backend/internal/reconcile"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type orderExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (reconcile.ExpirySummary, error)
}

type OrderExpiryJobParams struct {
	Logger     *logger.Logger
	Reconciler orderExpirer
}

// NewOrderExpiryJob expires payment orders whose window closed without a
// terminal callback and hands their seats back.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &orderExpiryJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		now:        time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg       *logger.Logger
	reconciler orderExpirer
	now        func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	summary, err := j.reconciler.ExpireOverdue(ctx, j.now().UTC())
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"expired":       summary.Expired,
		"force_expired": summary.ForceExpired,
	})
	if err != nil {
		return fmt.Errorf("expire overdue orders: %w", err)
	}
	if summary.Expired+summary.ForceExpired > 0 {
		j.logg.Info(logCtx, "overdue payment orders expired")
	}
	return nil
}
