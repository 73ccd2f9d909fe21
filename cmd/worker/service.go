package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Name() string
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	Pingers   map[string]pinger
	Consumers []runner
}

// Service runs every subscription consumer until one fails or ctx ends.
type Service struct {
	logg      *logger.Logger
	pingers   map[string]pinger
	consumers []runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for i, c := range params.Consumers {
		if c == nil {
			return nil, fmt.Errorf("consumer %d is nil", i)
		}
	}
	return &Service{
		logg:      params.Logger,
		pingers:   params.Pingers,
		consumers: params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, p := range s.pingers {
		if p == nil {
			return fmt.Errorf("%s client not initialized", name)
		}
		if err := p.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, c := range s.consumers {
		group.Go(func() error {
			consumerCtx := s.logg.WithField(groupCtx, "consumer", c.Name())
			s.logg.Info(consumerCtx, "consumer started")
			if err := c.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(consumerCtx, "consumer stopped unexpectedly", err)
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
