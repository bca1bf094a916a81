// Package manager is the consumer-facing façade over the lock primitive: run
// a unit of work while holding a named lock, with guaranteed release on every
// exit path, per-resource key naming and TTL/retry policies, and deterministic
// multi-key acquisition for operations that span several resources.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-latch/v1/lock"
)

// ErrNotAcquired is returned by the strict entry points when the lock could
// not be obtained. Ordinary entry points report the same situation as a
// value, never an error.
var ErrNotAcquired = errors.New("manager: lock not acquired")

var tracer = otel.Tracer("github.com/mirkobrombin/go-latch/v1/manager")

// Manager executes units of work under named locks.
type Manager struct {
	locker   lock.Locker
	policies map[Resource]Policy
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithPolicy overrides the policy for one resource kind.
func WithPolicy(r Resource, p Policy) Option {
	return func(m *Manager) {
		m.policies[r] = p
	}
}

// New returns a new Manager backed by the given locker.
func New(locker lock.Locker, opts ...Option) *Manager {
	m := &Manager{
		locker:   locker,
		policies: DefaultPolicies(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do acquires key, runs fn while holding it and releases on every exit path,
// panics included. ran reports whether fn executed at all: false with a nil
// error means the lock was contended (a routine outcome), false with an
// error means the coordination store failed and the call failed closed. When
// ran is true, err is whatever fn returned.
func (m *Manager) Do(ctx context.Context, key string, ttl time.Duration, maxRetries int, fn func(context.Context) error) (ran bool, err error) {
	ctx, span := tracer.Start(ctx, "manager.Do")
	span.SetAttributes(attribute.String("lock.key", key))
	defer span.End()

	token, aerr := m.locker.Acquire(ctx, key, ttl, maxRetries)
	if token == "" {
		if aerr != nil {
			m.logger.Warn("lock unavailable, store failure", zap.String("key", key), zap.Error(aerr))
		}
		return false, aerr
	}
	defer func() {
		// fn cancelling the caller's context is a normal exit path; the
		// release must still reach the store. The primitive applies its own
		// timeout.
		rctx := context.WithoutCancel(ctx)
		ok, rerr := m.locker.Release(rctx, key, token)
		if rerr != nil {
			m.logger.Warn("lock release failed, ttl will reclaim it", zap.String("key", key), zap.Error(rerr))
		} else if !ok {
			m.logger.Debug("lock already gone on release", zap.String("key", key))
		}
	}()
	return true, fn(ctx)
}

// DoOrFail is the strict variant of Do for call sites where silently
// skipping the work would be wrong: a missed lock surfaces as ErrNotAcquired.
func (m *Manager) DoOrFail(ctx context.Context, key string, ttl time.Duration, maxRetries int, fn func(context.Context) error) error {
	ran, err := m.Do(ctx, key, ttl, maxRetries, fn)
	if !ran {
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
		}
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	return err
}

// Execute runs fn under the lock and returns its typed result. ran is false
// when the lock was missed, mirroring Manager.Do.
func Execute[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, maxRetries int, fn func(context.Context) (T, error)) (out T, ran bool, err error) {
	ran, err = m.Do(ctx, key, ttl, maxRetries, func(c context.Context) error {
		var ferr error
		out, ferr = fn(c)
		return ferr
	})
	return out, ran, err
}

// ExecuteOrDefault runs fn under the lock, or returns def when the lock
// could not be acquired. Graceful degradation for read-mostly call sites.
func ExecuteOrDefault[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, maxRetries int, fn func(context.Context) (T, error), def T) (T, error) {
	out, ran, err := Execute(ctx, m, key, ttl, maxRetries, fn)
	if !ran {
		return def, nil
	}
	return out, err
}

// ExecuteWithFallback runs fn under the lock, or runs fallback without the
// lock when it could not be acquired.
func ExecuteWithFallback[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, maxRetries int, fn, fallback func(context.Context) (T, error)) (T, error) {
	out, ran, err := Execute(ctx, m, key, ttl, maxRetries, fn)
	if !ran {
		return fallback(ctx)
	}
	return out, err
}
