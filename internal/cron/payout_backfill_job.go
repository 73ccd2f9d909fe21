package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type snapshotCandidates interface {
	ListCompletedWithoutSnapshot(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type snapshotBuilder interface {
	BuildSnapshot(ctx context.Context, eventID uuid.UUID) (*models.PayoutSnapshot, error)
}

type PayoutBackfillJobParams struct {
	Logger    *logger.Logger
	Events    snapshotCandidates
	Payouts   snapshotBuilder
	BatchSize int
}

// NewPayoutBackfillJob captures snapshots for completed events whose
// completion message was lost or failed.
func NewPayoutBackfillJob(params PayoutBackfillJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("events repository required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &payoutBackfillJob{
		logg:    params.Logger,
		events:  params.Events,
		payouts: params.Payouts,
		batch:   batch,
	}, nil
}

type payoutBackfillJob struct {
	logg    *logger.Logger
	events  snapshotCandidates
	payouts snapshotBuilder
	batch   int
}

func (j *payoutBackfillJob) Name() string { return "payout-backfill" }

func (j *payoutBackfillJob) Run(ctx context.Context) error {
	ids, err := j.events.ListCompletedWithoutSnapshot(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list events missing snapshots: %w", err)
	}
	var (
		errs     error
		captured int
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if _, err := j.payouts.BuildSnapshot(ctx, id); err != nil {
			j.logg.Error(j.logg.WithEventID(ctx, id.String()), "payout snapshot backfill failed", err)
			errs = multierr.Append(errs, fmt.Errorf("event %s: %w", id, err))
			continue
		}
		captured++
	}
	if captured > 0 {
		j.logg.Info(j.logg.WithField(ctx, "captured", captured), "payout snapshots backfilled")
	}
	return errs
}
