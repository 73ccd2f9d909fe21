package fees

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/metrics"
)

// DefaultVersion marks the built-in fallback configuration.
const DefaultVersion = 0

type configSource interface {
	Latest(ctx context.Context) (*models.PlatformFeeConfig, error)
	FindByVersion(ctx context.Context, version int) (*models.PlatformFeeConfig, error)
}

type invalidationListener interface {
	Listen(ctx context.Context, channel string, handle func(payload string)) error
}

// ProviderParams wires the cached fee configuration provider.
type ProviderParams struct {
	Source   configSource
	Listener invalidationListener
	Channel  string
	Default  decimal.Decimal
	Logger   *logger.Logger
	Metrics  *metrics.PaymentMetrics
}

// Provider serves the current fee configuration from memory. The cache is
// dropped whenever an invalidation arrives on the shared channel, so every
// instance picks up a new version on its next read.
type Provider struct {
	source   configSource
	listener invalidationListener
	channel  string
	fallback Config
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics

	mu       sync.RWMutex
	current  *Config
	lastGood *Config
	versions map[int]Config
	// generation counts invalidations; a load only fills the cache when no
	// invalidation happened while it was reading.
	generation uint64
}

// NewProvider validates the default configuration and builds a provider.
func NewProvider(params ProviderParams) (*Provider, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("fee config source required")
	}
	fallback := Config{Version: DefaultVersion, Percentage: params.Default}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("default fee config: %w", err)
	}
	return &Provider{
		source:   params.Source,
		listener: params.Listener,
		channel:  params.Channel,
		fallback: fallback,
		logg:     params.Logger,
		metrics:  params.Metrics,
		versions: map[int]Config{},
	}, nil
}

// Current returns the active configuration. When the store cannot be read or
// holds an invalid row, the last known good configuration is served, or the
// built-in default when nothing was ever loaded.
func (p *Provider) Current(ctx context.Context) Config {
	p.mu.RLock()
	if p.current != nil {
		cfg := *p.current
		p.mu.RUnlock()
		return cfg
	}
	gen := p.generation
	p.mu.RUnlock()

	cfg, err := p.load(ctx)
	if err != nil {
		fallback := p.degraded()
		p.metrics.IncFeeFallback()
		if p.logg != nil {
			logCtx := p.logg.WithField(ctx, "fallback_version", fallback.Version)
			p.logg.Error(logCtx, "fee config unavailable, serving fallback", err)
		}
		return fallback
	}

	p.mu.Lock()
	if p.generation == gen {
		p.current = &cfg
	}
	if p.lastGood == nil || cfg.Version >= p.lastGood.Version {
		p.lastGood = &cfg
	}
	p.versions[cfg.Version] = cfg
	p.mu.Unlock()
	return cfg
}

// ForVersion returns a stored configuration by version. Version 0 is the
// built-in default.
func (p *Provider) ForVersion(ctx context.Context, version int) (Config, error) {
	if version == DefaultVersion {
		return p.fallback, nil
	}
	p.mu.RLock()
	cfg, ok := p.versions[version]
	p.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	row, err := p.source.FindByVersion(ctx, version)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Config{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("fee config version %d not found", version))
		}
		return Config{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fee config version")
	}
	cfg = fromModel(row)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	p.mu.Lock()
	p.versions[version] = cfg
	p.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached current configuration. Versioned entries are
// immutable and stay cached.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.current = nil
	p.generation++
	p.mu.Unlock()
}

// Listen consumes invalidation messages until ctx is canceled. A dropped
// subscription is re-established with backoff, and the cache is cleared each
// time since messages may have been missed in between.
func (p *Provider) Listen(ctx context.Context) error {
	if p.listener == nil || p.channel == "" {
		return fmt.Errorf("fee config invalidation listener not configured")
	}
	backoff := retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.listener.Listen(ctx, p.channel, p.onInvalidate)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Invalidate()
		if err == nil {
			err = errors.New("fee config subscription closed")
		}
		if p.logg != nil {
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "fee config subscription lost, resubscribing")
		}
		return retry.RetryableError(err)
	})
}

func (p *Provider) onInvalidate(payload string) {
	p.Invalidate()
	if p.logg == nil {
		return
	}
	ctx := context.Background()
	if version, err := strconv.Atoi(payload); err == nil {
		ctx = p.logg.WithField(ctx, "fee_config_version", version)
	}
	p.logg.Info(ctx, "fee config cache invalidated")
}

func (p *Provider) load(ctx context.Context) (Config, error) {
	row, err := p.source.Latest(ctx)
	if err != nil {
		return Config{}, err
	}
	if row == nil {
		return Config{}, errors.New("no platform fee config stored")
	}
	cfg := fromModel(row)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (p *Provider) degraded() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastGood != nil {
		return *p.lastGood
	}
	return p.fallback
}

func fromModel(row *models.PlatformFeeConfig) Config {
	return Config{Version: row.Version, Percentage: row.Percentage}
}
