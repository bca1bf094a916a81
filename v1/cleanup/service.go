// Package cleanup runs the background sweeps that keep the lock namespace
// healthy: removing orphaned records, bounding runaway TTLs and warning when
// the tracked and store-derived lock counts drift apart. Sweeps only ever
// touch lock records, never the business data they protect.
package cleanup

import (
	"context"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-latch/v1/events"
	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/metrics"
)

const (
	defaultOrphanInterval  = 2 * time.Minute
	defaultExpiredInterval = 5 * time.Minute
	defaultHealthInterval  = 10 * time.Minute
	defaultOrphanThreshold = 10 * time.Minute
	defaultMaxPerPass      = 500
	defaultCountTolerance  = 5
	defaultRateFloor       = 50.0
	defaultMinSample       = 100
	scanBatch              = 100
)

// Store is the slice of the lock primitive the sweeps need. Implemented by
// lock.Redis.
type Store interface {
	Scan(ctx context.Context, cursor uint64, limit int64) ([]string, uint64, error)
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForceRelease(ctx context.Context, key string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// Status is a point-in-time snapshot of the cleanup configuration and the
// tracked-versus-actual lock counts.
type Status struct {
	Enabled         bool          `json:"enabled"`
	OrphanThreshold time.Duration `json:"orphan_threshold_ns"`
	MaxPerPass      int           `json:"max_per_pass"`
	TrackedCount    int64         `json:"tracked_count"`
	ActualCount     int64         `json:"actual_count"`
	Discrepancy     bool          `json:"discrepancy"`
}

// Service owns the three scheduled passes. Construct with New, call Start
// once and Close at teardown.
type Service struct {
	store  Store
	stats  *metrics.Stats
	bus    events.Bus
	logger *zap.Logger

	enabled         bool
	orphanThreshold time.Duration
	maxPerPass      int
	orphanInterval  time.Duration
	expiredInterval time.Duration
	healthInterval  time.Duration
	countTolerance  int64
	rateFloor       float64
	minSample       uint64

	mu      sync.Mutex
	cursor  uint64
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithEnabled toggles the whole service. A disabled service starts no loops
// and turns ForceCleanupAll into a no-op.
func WithEnabled(enabled bool) Option {
	return func(s *Service) { s.enabled = enabled }
}

// WithOrphanThreshold bounds how long any record may still have to live; a
// TTL beyond it is clamped down during the bounded sweep.
func WithOrphanThreshold(d time.Duration) Option {
	return func(s *Service) { s.orphanThreshold = d }
}

// WithMaxPerPass bounds how many keys a single expired-sweep pass inspects.
func WithMaxPerPass(n int) Option {
	return func(s *Service) { s.maxPerPass = n }
}

// WithIntervals overrides the three sweep intervals.
func WithIntervals(orphan, expired, health time.Duration) Option {
	return func(s *Service) {
		s.orphanInterval = orphan
		s.expiredInterval = expired
		s.healthInterval = health
	}
}

// WithStats wires the process-local counters used by the health check and
// reset on force cleanup.
func WithStats(stats *metrics.Stats) Option {
	return func(s *Service) { s.stats = stats }
}

// WithBus publishes cleaned/forced events on the given bus.
func WithBus(bus events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCountTolerance sets how far tracked and actual counts may diverge
// before the health check warns.
func WithCountTolerance(n int64) Option {
	return func(s *Service) { s.countTolerance = n }
}

// WithSuccessRateFloor sets the success-rate percentage under which the
// health check warns, once minSample attempts have been observed.
func WithSuccessRateFloor(rate float64, minSample uint64) Option {
	return func(s *Service) {
		s.rateFloor = rate
		s.minSample = minSample
	}
}

// New returns a new cleanup Service for the given store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		logger:          zap.NewNop(),
		enabled:         true,
		orphanThreshold: defaultOrphanThreshold,
		maxPerPass:      defaultMaxPerPass,
		orphanInterval:  defaultOrphanInterval,
		expiredInterval: defaultExpiredInterval,
		healthInterval:  defaultHealthInterval,
		countTolerance:  defaultCountTolerance,
		rateFloor:       defaultRateFloor,
		minSample:       defaultMinSample,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the three sweep loops. It is a no-op when the service is
// disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.loop(ctx, s.orphanInterval, func(c context.Context) { s.OrphanSweep(c) })
	s.loop(ctx, s.expiredInterval, func(c context.Context) { s.ExpiredSweep(c) })
	s.loop(ctx, s.healthInterval, s.HealthCheck)
}

func (s *Service) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pass(ctx)
			}
		}
	}()
}

// Close stops the sweep loops and waits for in-flight passes to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	s.wg.Wait()
}

// OrphanSweep walks the whole namespace and removes every record that exists
// without a TTL. Acquire always attaches a TTL, so any hit means a bug, a
// manual write or a store feature gap; the sweep is the safety net.
// It returns the number of records removed.
func (s *Service) OrphanSweep(ctx context.Context) int {
	runID := s.runID()
	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.store.Scan(ctx, cursor, scanBatch)
		if err != nil {
			s.logger.Warn("orphan sweep: scan failed", zap.String("run", runID), zap.Error(err))
			return removed
		}
		for _, key := range keys {
			if s.removeIfOrphan(ctx, key, runID) {
				removed++
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if removed > 0 {
		s.logger.Warn("orphan sweep removed invariant-violating locks",
			zap.String("run", runID), zap.Int("removed", removed))
	}
	return removed
}

func (s *Service) removeIfOrphan(ctx context.Context, key, runID string) bool {
	ttl, held, err := s.store.RemainingTTL(ctx, key)
	if err != nil || !held || ttl != lock.NoExpiry {
		return false
	}
	ok, err := s.store.ForceRelease(ctx, key)
	if err != nil {
		s.logger.Warn("orphan sweep: delete failed", zap.String("run", runID), zap.String("key", key), zap.Error(err))
		return false
	}
	if ok {
		s.logger.Warn("removed orphaned lock with no ttl", zap.String("run", runID), zap.String("key", key))
		s.publish(ctx, key, events.KindCleaned)
	}
	return ok
}

// ExpiredSweep is the second line of defense: a bounded re-scan that removes
// orphans and clamps records whose remaining TTL exceeds the orphan
// threshold (no policy in this module issues TTLs that long, so such a record
// came from outside). The pass inspects at most maxPerPass keys and resumes
// from the saved cursor on the next run, so a bounded pass can never starve a
// region of the keyspace forever. Returns the number of keys inspected.
func (s *Service) ExpiredSweep(ctx context.Context) int {
	runID := s.runID()
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	inspected := 0
	for inspected < s.maxPerPass {
		limit := int64(s.maxPerPass - inspected)
		if limit > scanBatch {
			limit = scanBatch
		}
		keys, next, err := s.store.Scan(ctx, cursor, limit)
		if err != nil {
			s.logger.Warn("expired sweep: scan failed", zap.String("run", runID), zap.Error(err))
			break
		}
		for _, key := range keys {
			inspected++
			s.inspect(ctx, key, runID)
		}
		cursor = next
		if next == 0 {
			break
		}
	}
	if inspected >= s.maxPerPass && cursor != 0 {
		s.logger.Warn("expired sweep hit the per-pass limit, resuming next run",
			zap.String("run", runID), zap.Int("inspected", inspected), zap.Uint64("cursor", cursor))
	}
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
	return inspected
}

func (s *Service) inspect(ctx context.Context, key, runID string) {
	ttl, held, err := s.store.RemainingTTL(ctx, key)
	if err != nil || !held {
		return
	}
	switch {
	case ttl == lock.NoExpiry:
		if ok, err := s.store.ForceRelease(ctx, key); err == nil && ok {
			s.logger.Warn("expired sweep removed orphaned lock", zap.String("run", runID), zap.String("key", key))
			s.publish(ctx, key, events.KindCleaned)
		}
	case ttl > s.orphanThreshold:
		if ok, err := s.store.Expire(ctx, key, s.orphanThreshold); err == nil && ok {
			s.logger.Warn("expired sweep clamped oversized ttl",
				zap.String("run", runID), zap.String("key", key), zap.Duration("ttl", ttl))
		}
	}
}

// HealthCheck compares the store-authoritative lock count against the
// tracked one and inspects the acquisition success rate, warning on either
// signal. Divergence between the two counts is expected in small amounts
// (TTL-expired locks are never subtracted from the tracked figure).
func (s *Service) HealthCheck(ctx context.Context) {
	if s.stats == nil {
		return
	}
	actual, err := s.stats.ActualActiveLockCount(ctx)
	if err != nil {
		s.logger.Warn("health check: store count unavailable", zap.Error(err))
		return
	}
	tracked := s.stats.ActiveLockCount()
	diff := actual - tracked
	if diff < 0 {
		diff = -diff
	}
	if diff > s.countTolerance {
		s.logger.Warn("lock count discrepancy",
			zap.Int64("actual", actual), zap.Int64("tracked", tracked), zap.Int64("tolerance", s.countTolerance))
	}
	if s.stats.Attempts() >= s.minSample {
		if rate := s.stats.SuccessRate(); rate < s.rateFloor {
			s.logger.Warn("lock acquisition success rate below floor, possible contention hotspot",
				zap.Float64("rate", rate), zap.Float64("floor", s.rateFloor))
		}
	}
}

// ForceCleanupAll unconditionally deletes every record in the lock namespace
// and resets the process-local counters. Operator tool for test environments
// and incident recovery; it can violate in-flight critical sections that
// still believe they hold a lock, so every use is logged at warning level.
// When the service is disabled it does nothing and reports zero.
func (s *Service) ForceCleanupAll(ctx context.Context) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	runID := s.runID()
	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.store.Scan(ctx, cursor, scanBatch)
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			ok, err := s.store.ForceRelease(ctx, key)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
				s.publish(ctx, key, events.KindForced)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if s.stats != nil {
		s.stats.Reset()
	}
	s.logger.Warn("force cleanup removed all locks", zap.String("run", runID), zap.Int("removed", removed))
	return removed, nil
}

// Status returns the current cleanup snapshot.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{
		Enabled:         s.enabled,
		OrphanThreshold: s.orphanThreshold,
		MaxPerPass:      s.maxPerPass,
	}
	if s.stats != nil {
		st.TrackedCount = s.stats.ActiveLockCount()
		actual, err := s.stats.ActualActiveLockCount(ctx)
		if err != nil {
			return st, err
		}
		st.ActualCount = actual
		diff := st.ActualCount - st.TrackedCount
		if diff < 0 {
			diff = -diff
		}
		st.Discrepancy = diff > s.countTolerance
	}
	return st, nil
}

func (s *Service) runID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "unknown"
	}
	return id
}

func (s *Service) publish(ctx context.Context, key string, kind events.Kind) {
	if s.bus == nil {
		return
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = "unknown"
	}
	_ = s.bus.Publish(ctx, events.Event{ID: id, Key: key, Kind: kind, At: time.Now().UTC()})
}
