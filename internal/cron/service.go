package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Minute
	defaultJobTimeout = 4 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job run. Keep it below the lease TTL so a
	// lease never lapses while its holder is still sweeping.
	JobTimeout time.Duration
}

// Service executes registered cron jobs on a fixed cadence.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	jobTimeout := params.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: jobTimeout,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return
		}
		s.runLeased(ctx, job)
	}
}

func (s *Service) runLeased(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	held, err := s.lock.Acquire(ctx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "lease acquire failed", err)
		s.metrics.Observe(job.Name(), metrics.CronFailed, 0, time.Now())
		return
	}
	if !held {
		s.logg.Info(jobCtx, "lease held by another instance; skipping")
		s.metrics.Skipped(job.Name())
		return
	}
	defer func() {
		// release on a fresh context so shutdown does not strand the lease
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if relErr := s.lock.Release(relCtx, job.Name()); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lease", relErr)
		}
	}()

	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()
	s.runJob(runCtx, job)
}

func (s *Service) runJob(ctx context.Context, job Job) {
	s.logg.Info(ctx, "job start")
	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)
	ctx = s.logg.WithField(ctx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		s.metrics.Observe(job.Name(), metrics.CronFailed, duration, time.Now())
		return
	}
	s.logg.Info(ctx, "job completed")
	s.metrics.Observe(job.Name(), metrics.CronSucceeded, duration, time.Now())
}
