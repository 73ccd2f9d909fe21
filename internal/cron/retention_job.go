package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	retentionDeleteBatch   = 500
	retentionMaxBatches    = 20
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// pruneFunc deletes at most limit rows older than cutoff and reports how
// many went.
type pruneFunc func(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type RetentionJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Outbox          publishedPruner
	DeadLetters     deadLetterPruner
	OutboxRetention time.Duration
	DLQRetention    time.Duration
	BatchSize       int
}

type retentionTarget struct {
	table  string
	keep   time.Duration
	delete pruneFunc
}

// NewRetentionJob prunes published outbox rows and stale dead letters. Dead
// letters are optional; without a pruner only the outbox is swept.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = retentionDeleteBatch
	}
	targets := []retentionTarget{{
		table:  "outbox_events",
		keep:   orDefault(params.OutboxRetention, defaultOutboxRetention),
		delete: params.Outbox.DeletePublishedBefore,
	}}
	if params.DeadLetters != nil {
		targets = append(targets, retentionTarget{
			table:  "outbox_dlq",
			keep:   orDefault(params.DLQRetention, defaultDLQRetention),
			delete: params.DeadLetters.DeleteFailedBefore,
		})
	}
	return &retentionJob{
		logg:    params.Logger,
		db:      params.DB,
		targets: targets,
		batch:   batch,
		now:     time.Now,
	}, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

type retentionJob struct {
	logg    *logger.Logger
	db      txRunner
	targets []retentionTarget
	batch   int
	now     func() time.Time
}

func (j *retentionJob) Name() string { return "outbox-retention" }

// Run sweeps every target independently; a failing table does not stop the
// others.
func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error
	for _, target := range j.targets {
		cutoff := now.Add(-target.keep)
		deleted, err := j.sweep(ctx, target, cutoff)
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"table":        target.table,
			"cutoff":       cutoff,
			"rows_deleted": deleted,
		})
		if err != nil {
			j.logg.Error(logCtx, "retention sweep failed", err)
			errs = multierr.Append(errs, fmt.Errorf("%s retention: %w", target.table, err))
			continue
		}
		if deleted > 0 {
			j.logg.Info(logCtx, "retention sweep complete")
		}
	}
	return errs
}

// sweep deletes in short transactions until a batch comes back short or the
// per-run cap is hit.
func (j *retentionJob) sweep(ctx context.Context, target retentionTarget, cutoff time.Time) (int64, error) {
	var total int64
	for i := 0; i < retentionMaxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = target.delete(tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.batch) {
			break
		}
	}
	return total, nil
}
