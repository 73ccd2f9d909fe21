package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/migrate"
	"github.com/angelmondragon/eventpass-backend/pkg/redis"
)

// BootOptions selects which process-level clients a binary needs.
type BootOptions struct {
	Kind  string
	Redis bool
}

// Runtime is a booted process: config, logger and the shared clients,
// plus everything that must be closed on the way out.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Boot loads .env and config, builds the logger, connects Postgres (running
// dev migrations when enabled) and optionally Redis. On error the clients
// opened so far are closed and the returned Runtime still carries a usable
// logger.
func Boot(ctx context.Context, opts BootOptions) (*Runtime, error) {
	rt := &Runtime{Logger: logger.New(logger.Options{ServiceName: opts.Kind})}
	if err := godotenv.Load(); err != nil {
		rt.Logger.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return rt, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = opts.Kind
	rt.Config = cfg
	rt.Logger = logger.New(logger.Options{
		ServiceName: opts.Kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := rt.connect(ctx, opts); err != nil {
		if cerr := rt.Close(); cerr != nil {
			rt.Logger.Error(ctx, "cleanup after failed boot", cerr)
		}
		return rt, err
	}
	return rt, nil
}

func (rt *Runtime) connect(ctx context.Context, opts BootOptions) error {
	dbClient, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	rt.DB = dbClient
	rt.OnClose("database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	if opts.Redis {
		redisClient, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rt.Redis = redisClient
		rt.OnClose("redis", redisClient.Close)
	}
	return nil
}

// OnClose registers fn to run on Close. Closers run in reverse order.
func (rt *Runtime) OnClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Close runs every registered closer and combines their errors.
func (rt *Runtime) Close() error {
	var errs error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	rt.closers = nil
	return errs
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the process
// identity as log fields.
func (rt *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{"serviceKind": rt.Config.Service.Kind, "env": rt.Config.App.Env}
	return rt.Logger.WithFields(ctx, fields), stop
}

// Must logs err against resource and exits the process.
func (rt *Runtime) Must(ctx context.Context, resource string, err error) {
	if err == nil {
		return
	}
	rt.Logger.Error(ctx, "resource not working: "+resource, err)
	if cerr := rt.Close(); cerr != nil {
		rt.Logger.Error(ctx, "cleanup on exit", cerr)
	}
	os.Exit(1)
}
