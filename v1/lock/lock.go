package lock

import (
	"context"
	"errors"
	"time"
)

// NoExpiry is reported by RemainingTTL for a record that exists without a
// TTL. Such a record violates the acquisition invariant and is removed by the
// cleanup service.
const NoExpiry = time.Duration(-1)

// ErrInvalidTTL is returned when Acquire is called with a non-positive TTL.
var ErrInvalidTTL = errors.New("lock: ttl must be positive")

// Locker is the low-level lock protocol. Acquire returns the ownership token
// on success and "" when the key is held by someone else after maxRetries
// attempts; only infrastructure failures produce a non-nil error, and even
// then the token is "" (the primitive fails closed).
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration, maxRetries int) (string, error)
	// Release deletes the record only when it still holds token. false means
	// there was nothing to do: the key was absent or owned by another token.
	Release(ctx context.Context, key, token string) (bool, error)
	// IsLocked, Owner and RemainingTTL are diagnostics only; gating an
	// acquisition on them would reintroduce a check-then-act race.
	IsLocked(ctx context.Context, key string) (bool, error)
	Owner(ctx context.Context, key string) (string, error)
	// RemainingTTL reports (ttl, held). A held record with no expiry reports
	// NoExpiry.
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error)
}

// Recorder receives acquisition accounting. Implemented by metrics.Stats;
// a nil recorder disables accounting.
type Recorder interface {
	Attempt()
	Acquired()
	Missed()
	Released()
}

type nopRecorder struct{}

func (nopRecorder) Attempt()  {}
func (nopRecorder) Acquired() {}
func (nopRecorder) Missed()   {}
func (nopRecorder) Released() {}
