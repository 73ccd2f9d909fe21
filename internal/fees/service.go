package fees

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type invalidationPublisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

type cache interface {
	Current(ctx context.Context) Config
	Invalidate()
}

// Service manages the platform fee configuration lifecycle.
type Service interface {
	Current(ctx context.Context) Config
	History(ctx context.Context, limit int) ([]models.PlatformFeeConfig, error)
	UpdateConfig(ctx context.Context, input UpdateInput) (*models.PlatformFeeConfig, error)
}

// UpdateInput carries a staff request to change the fee percentage.
type UpdateInput struct {
	Percentage decimal.Decimal
	ActorID    uuid.UUID
}

// ServiceParams wires the fee service.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Outbox    outboxPublisher
	Cache     cache
	Publisher invalidationPublisher
	Channel   string
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	cache     cache
	publisher invalidationPublisher
	channel   string
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the fee configuration service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("fee repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("fee config cache required")
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		cache:     params.Cache,
		publisher: params.Publisher,
		channel:   params.Channel,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Current(ctx context.Context) Config {
	return s.cache.Current(ctx)
}

func (s *service) History(ctx context.Context, limit int) ([]models.PlatformFeeConfig, error) {
	rows, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list fee configs")
	}
	return rows, nil
}

// UpdateConfig stores the next version and broadcasts an invalidation once the
// transaction commits. Existing orders keep the version they were priced with.
func (s *service) UpdateConfig(ctx context.Context, input UpdateInput) (*models.PlatformFeeConfig, error) {
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var created *models.PlatformFeeConfig
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		latest, err := repo.Latest(ctx)
		if err != nil {
			return err
		}
		next := 1
		if latest != nil {
			next = latest.Version + 1
		}
		candidate := Config{Version: next, Percentage: input.Percentage.Round(moneyPlaces)}
		if err := candidate.Validate(); err != nil {
			return err
		}

		actor := input.ActorID
		row := &models.PlatformFeeConfig{
			ID:          uuid.New(),
			Version:     candidate.Version,
			Percentage:  candidate.Percentage,
			EffectiveAt: s.now(),
			UpdatedBy:   &actor,
		}
		if err := repo.Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "fee config updated concurrently, retry")
			}
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFeeConfigUpdated,
			AggregateType: enums.AggregateFeeConfig,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{UserID: actor, Staff: true},
			Data: payloads.FeeConfigUpdatedEvent{
				Version:    row.Version,
				Percentage: row.Percentage,
				UpdatedBy:  &actor,
			},
		}); err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update fee config")
	}

	s.cache.Invalidate()
	if err := s.broadcast(ctx, created.Version); err != nil {
		return created, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fee config saved but invalidation was not broadcast").
			WithDetails(map[string]any{"version": created.Version})
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"fee_config_version": created.Version,
			"percentage":         created.Percentage.StringFixed(2),
			"user_id":            input.ActorID.String(),
		})
		s.logg.Info(logCtx, "platform fee config updated")
	}
	return created, nil
}

func (s *service) broadcast(ctx context.Context, version int) error {
	if s.publisher == nil || s.channel == "" {
		return nil
	}
	backoff := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.publisher.Publish(ctx, s.channel, strconv.Itoa(version)); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
