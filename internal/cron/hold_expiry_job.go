package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

const defaultSweepBatch = 100

type holdExpirer interface {
	ExpireStaleHolds(ctx context.Context, now time.Time, limit int) (int, error)
}

type HoldExpiryJobParams struct {
	Logger       *logger.Logger
	Reservations holdExpirer
	BatchSize    int
}

// NewHoldExpiryJob releases capacity holds that lapsed before an order was
// placed against them.
func NewHoldExpiryJob(params HoldExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &holdExpiryJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		batch:        batch,
		now:          time.Now,
	}, nil
}

type holdExpiryJob struct {
	logg         *logger.Logger
	reservations holdExpirer
	batch        int
	now          func() time.Time
}

func (j *holdExpiryJob) Name() string { return "hold-expiry" }

func (j *holdExpiryJob) Run(ctx context.Context) error {
	released, err := j.reservations.ExpireStaleHolds(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("expire stale holds: %w", err)
	}
	if released > 0 {
		j.logg.Info(j.logg.WithField(ctx, "released", released), "stale capacity holds released")
	}
	return nil
}
