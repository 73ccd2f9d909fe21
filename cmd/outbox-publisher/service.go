package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type relayMetrics interface {
	IncPublished(eventType string)
	IncFailed(eventType string)
	IncDeadLettered(reason string)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          relayMetrics
}

// Service relays committed outbox rows to their Pub/Sub topics. Rows of one
// aggregate go out in insertion order: once a row stays pending, later rows
// of the same aggregate wait for the next batch.
type Service struct {
	logg       *logger.Logger
	db         dbClient
	pubsub     pubSubClient
	rows       outboxRepository
	registry   registryResolver
	dlq        dlqRepository
	metrics    relayMetrics
	topics     *topicCache
	limits     relayLimits
	publishTTL time.Duration
}

type relayLimits struct {
	batch       int
	maxAttempts int
	poll        time.Duration
}

func limitsFrom(cfg config.OutboxConfig) relayLimits {
	l := relayLimits{batch: cfg.BatchSize, maxAttempts: cfg.MaxAttempts, poll: time.Duration(cfg.PollIntervalMS) * time.Millisecond}
	if l.batch <= 0 {
		l.batch = defaultBatchSize
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = defaultMaxAttempts
	}
	if l.poll <= 0 {
		l.poll = defaultPollMs * time.Millisecond
	}
	return l
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"config", params.Config == nil},
		{"logger", params.Logger == nil},
		{"database client", params.DB == nil},
		{"pubsub client", params.PubSub == nil},
		{"outbox repository", params.Repository == nil},
		{"event registry", params.Registry == nil},
		{"dlq repository", params.DLQRepository == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, fmt.Errorf("%s is required", r.name)
		}
	}

	factory := params.PublisherFactory
	if factory == nil {
		client := params.PubSub
		factory = func(topic string) publisher {
			if p := client.Publisher(topic); p != nil {
				return gcpPublisher{p}
			}
			return nil
		}
	}

	return &Service{
		logg:       params.Logger,
		db:         params.DB,
		pubsub:     params.PubSub,
		rows:       params.Repository,
		registry:   params.Registry,
		dlq:        params.DLQRepository,
		metrics:    params.Metrics,
		topics:     &topicCache{open: factory, byTopic: map[string]publisher{}},
		limits:     limitsFrom(params.Config.Outbox),
		publishTTL: defaultPublishTimeout,
	}, nil
}

// Run polls until ctx is canceled. Idle polls wait the poll interval; a
// failing batch backs off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		s.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	backoff := s.backoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		busy, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait, _ = backoff.Next()
		case busy:
			backoff = s.backoff()
			continue
		default:
			backoff = s.backoff()
			wait = s.limits.poll
		}
		if err := pause(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) backoff() retry.Backoff {
	return retry.WithJitter(jitterWindow, retry.WithCappedDuration(maxBackoff, retry.NewExponential(s.limits.poll)))
}

// processBatch relays one locked batch inside a single transaction. It reports
// whether any row was fetched.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var fetched int
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.rows.FetchUnpublishedForPublish(tx, s.limits.batch, s.limits.maxAttempts)
		if err != nil {
			return err
		}
		fetched = len(rows)

		held := map[uuid.UUID]bool{}
		for _, row := range rows {
			if held[row.AggregateID] {
				continue
			}
			pending, err := s.relay(ctx, tx, row)
			if err != nil {
				return err
			}
			held[row.AggregateID] = pending
		}
		return nil
	})
	return fetched > 0, err
}

// relay publishes one row and records the outcome. pending is true when the
// row will be retried.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (pending bool, err error) {
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return false, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, rowFields(row, nil))
	}
	fields := rowFields(row, resolved)

	pubErr := s.publish(ctx, row, resolved)
	switch {
	case pubErr == nil:
		if err := s.rows.MarkPublishedTx(tx, row.ID); err != nil {
			return false, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		if s.metrics != nil {
			s.metrics.IncPublished(string(row.EventType))
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return false, nil

	case errors.Is(pubErr, registry.ErrUnpublishable):
		return false, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, pubErr, fields)

	case row.AttemptCount+1 >= s.limits.maxAttempts:
		fields["attempt_count"] = row.AttemptCount + 1
		return false, s.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", pubErr), fields)
	}

	fields["attempt_count"] = row.AttemptCount + 1
	fields["error"] = pubErr.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if s.metrics != nil {
		s.metrics.IncFailed(string(row.EventType))
	}
	if err := s.rows.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return true, fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	return true, nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	if err := s.dlq.InsertTx(tx, models.DeadLetter(row, reason, cause, time.Now())); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := s.rows.MarkTerminalTx(tx, row.ID, cause, s.limits.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	if s.metrics != nil {
		s.metrics.IncDeadLettered(string(reason))
	}
	return nil
}

func (s *Service) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Route.Topic
	pub := s.topics.get(topic)
	if pub == nil {
		return registry.Unpublishable(fmt.Errorf("no publisher for topic %s", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, s.publishTTL)
	defer cancel()
	res := pub.Publish(ctx, &gcppubsub.Message{Data: row.Payload, Attributes: messageAttributes(row, resolved)})
	if res == nil {
		return registry.Unpublishable(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	_, err := res.Get(ctx)
	return err
}

// messageAttributes are the Pub/Sub attributes consumers filter and dedupe on.
func messageAttributes(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	return map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func rowFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	if resolved != nil {
		fields["topic"] = resolved.Route.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
			fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
		}
	}
	return fields
}

// topicCache opens one publisher per topic and keeps it for the process
// lifetime. Nil publishers are not cached so a later batch can retry.
type topicCache struct {
	open    publisherFactory
	byTopic map[string]publisher
}

func (c *topicCache) get(topic string) publisher {
	if p, ok := c.byTopic[topic]; ok {
		return p
	}
	p := c.open(topic)
	if p != nil {
		c.byTopic[topic] = p
	}
	return p
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
