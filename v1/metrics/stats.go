package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// ErrNoStore is returned by ActualActiveLockCount when no store counter was
// configured.
var ErrNoStore = errors.New("metrics: no store counter configured")

const actualCountKey = "actual"

// StoreCounter counts records in the lock namespace. Implemented by
// lock.Redis.
type StoreCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Snapshot is a point-in-time copy of the counters, shaped for JSON.
type Snapshot struct {
	Attempts    uint64  `json:"attempts"`
	Acquired    uint64  `json:"acquired"`
	Missed      uint64  `json:"missed"`
	Released    uint64  `json:"released"`
	Active      int64   `json:"active"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats accumulates per-process lock accounting. It satisfies lock.Recorder.
// Construct it with New and share one instance per process; it is safe for
// concurrent use.
type Stats struct {
	attempts atomic.Uint64
	acquired atomic.Uint64
	missed   atomic.Uint64
	released atomic.Uint64
	active   atomic.Int64

	counter  StoreCounter
	group    singleflight.Group
	cache    *ristretto.Cache
	cacheTTL time.Duration
}

// Option configures Stats.
type Option func(*Stats)

// WithStoreCounter wires the store-derived count used by
// ActualActiveLockCount.
func WithStoreCounter(c StoreCounter) Option {
	return func(s *Stats) {
		s.counter = c
	}
}

// WithActualCountTTL sets how long a store-derived count is served from cache
// before the namespace is scanned again.
func WithActualCountTTL(d time.Duration) Option {
	return func(s *Stats) {
		s.cacheTTL = d
	}
}

// BindStore wires the store counter after construction. The locker and the
// stats reference each other (the locker records into Stats, Stats counts
// through the locker), so one side has to bind late; call this once during
// wiring, before any ActualActiveLockCount call.
func (s *Stats) BindStore(c StoreCounter) {
	s.counter = c
}

// New returns a new Stats.
func New(opts ...Option) *Stats {
	s := &Stats{cacheTTL: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	// The cache holds a single entry; sizing is about ristretto's own
	// bookkeeping, not capacity.
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 64,
		MaxCost:     16,
		BufferItems: 64,
	})
	if err == nil {
		s.cache = cache
	}
	return s
}

// Attempt implements lock.Recorder.
func (s *Stats) Attempt() {
	s.attempts.Add(1)
	AttemptCounter.Inc()
}

// Acquired implements lock.Recorder.
func (s *Stats) Acquired() {
	s.acquired.Add(1)
	s.active.Add(1)
	AcquiredCounter.Inc()
	ActiveGauge.Inc()
}

// Missed implements lock.Recorder.
func (s *Stats) Missed() {
	s.missed.Add(1)
	MissedCounter.Inc()
}

// Released implements lock.Recorder. The active figure clamps at zero, and
// the gauge follows the clamped value so the two can never disagree in sign.
func (s *Stats) Released() {
	s.released.Add(1)
	ReleasedCounter.Inc()
	if v := s.active.Add(-1); v < 0 {
		s.active.Store(0)
		ActiveGauge.Set(0)
	} else {
		ActiveGauge.Dec()
	}
}

// ActiveLockCount returns the tracked active-lock count. Cheap but only a
// sanity figure: locks reclaimed by TTL expiry are never subtracted here.
func (s *Stats) ActiveLockCount() int64 {
	return s.active.Load()
}

// SuccessRate returns acquired/attempts as a percentage. 100 when nothing
// was attempted yet.
func (s *Stats) SuccessRate() float64 {
	attempts := s.attempts.Load()
	if attempts == 0 {
		return 100
	}
	return float64(s.acquired.Load()) / float64(attempts) * 100
}

// Attempts returns the total number of acquisition attempts.
func (s *Stats) Attempts() uint64 {
	return s.attempts.Load()
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Attempts:    s.attempts.Load(),
		Acquired:    s.acquired.Load(),
		Missed:      s.missed.Load(),
		Released:    s.released.Load(),
		Active:      s.active.Load(),
		SuccessRate: s.SuccessRate(),
	}
}

// Reset zeroes the process-local counters. Administrative and test use only.
// Prometheus counters are monotonic and are left alone; only the gauge is
// realigned.
func (s *Stats) Reset() {
	s.attempts.Store(0)
	s.acquired.Store(0)
	s.missed.Store(0)
	s.released.Store(0)
	s.active.Store(0)
	ActiveGauge.Set(0)
	if s.cache != nil {
		s.cache.Del(actualCountKey)
	}
}

// ActualActiveLockCount returns the store-authoritative number of lock
// records. The scan is expensive, so concurrent callers share one flight and
// the result is cached for a short TTL.
func (s *Stats) ActualActiveLockCount(ctx context.Context) (int64, error) {
	if s.counter == nil {
		return 0, ErrNoStore
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(actualCountKey); ok {
			if n, ok := v.(int64); ok {
				return n, nil
			}
		}
	}
	v, err, _ := s.group.Do(actualCountKey, func() (any, error) {
		n, err := s.counter.Count(ctx)
		if err != nil {
			return int64(0), err
		}
		if s.cache != nil {
			s.cache.SetWithTTL(actualCountKey, n, 1, s.cacheTTL)
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
