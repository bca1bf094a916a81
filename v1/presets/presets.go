// Package presets assembles the whole lock subsystem with one call for the
// common deployments.
package presets

import (
	"net/http"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-latch/v1/admin"
	"github.com/mirkobrombin/go-latch/v1/cleanup"
	"github.com/mirkobrombin/go-latch/v1/events"
	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/manager"
	"github.com/mirkobrombin/go-latch/v1/metrics"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// System is a fully wired lock subsystem.
type System struct {
	Client  *redis.Client
	Bus     events.Bus
	Stats   *metrics.Stats
	Locker  lock.Locker
	Manager *manager.Manager
	Cleanup *cleanup.Service
}

// Option adjusts how the system is assembled.
type Option func(*config)

type config struct {
	logger      *zap.Logger
	bus         events.Bus
	cleanupOpts []cleanup.Option
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBus overrides the event bus. The default is a Redis pub/sub bus for
// NewRedis and an in-memory bus for NewStandalone.
func WithBus(bus events.Bus) Option {
	return func(c *config) {
		c.bus = bus
	}
}

// WithCleanupOptions forwards options to the cleanup service.
func WithCleanupOptions(opts ...cleanup.Option) Option {
	return func(c *config) {
		c.cleanupOpts = append(c.cleanupOpts, opts...)
	}
}

// NewRedis wires the lock subsystem against a Redis deployment: Redis-backed
// primitive, shared stats, cleanup service and manager. Call
// System.Cleanup.Start to begin the background sweeps.
func NewRedis(opts RedisOptions, options ...Option) *System {
	cfg := &config{logger: zap.NewNop()}
	for _, opt := range options {
		opt(cfg)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	bus := cfg.bus
	if bus == nil {
		bus = events.NewRedisBus(client)
	}
	stats := metrics.New()
	locker := lock.NewRedis(client,
		lock.WithLogger(cfg.logger),
		lock.WithBus(bus),
		lock.WithRecorder(stats),
	)
	stats.BindStore(locker)
	cleanupOpts := append([]cleanup.Option{
		cleanup.WithLogger(cfg.logger),
		cleanup.WithStats(stats),
		cleanup.WithBus(bus),
	}, cfg.cleanupOpts...)
	svc := cleanup.New(locker, cleanupOpts...)
	mgr := manager.New(locker, manager.WithLogger(cfg.logger))
	return &System{
		Client:  client,
		Bus:     bus,
		Stats:   stats,
		Locker:  locker,
		Manager: mgr,
		Cleanup: svc,
	}
}

// NewStandalone wires an entirely in-process subsystem with no external
// dependencies. Useful for local development and tests; there is no cleanup
// service because the in-memory locker cannot produce orphans.
func NewStandalone(options ...Option) *System {
	cfg := &config{logger: zap.NewNop()}
	for _, opt := range options {
		opt(cfg)
	}
	bus := cfg.bus
	if bus == nil {
		bus = events.NewInMemoryBus()
	}
	stats := metrics.New()
	locker := lock.NewInMemory(lock.WithInMemoryRecorder(stats))
	mgr := manager.New(locker, manager.WithLogger(cfg.logger))
	return &System{
		Bus:     bus,
		Stats:   stats,
		Locker:  locker,
		Manager: mgr,
	}
}

// AdminMux returns the admin HTTP surface for the system, or nil when the
// system has no cleanup service to expose.
func (s *System) AdminMux() *http.ServeMux {
	if s.Cleanup == nil {
		return nil
	}
	return admin.NewMux(s.Locker, s.Stats, s.Cleanup, s.Bus)
}
