package lock

import (
	"context"
	stdErrors "errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/events"
)

// DefaultPrefix is the namespace every lock record lives under.
const DefaultPrefix = "latch:lock:"

const (
	defaultRetryDelay = 50 * time.Millisecond
	defaultOpTimeout  = 5 * time.Second
	scanBatch         = 100
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-latch/v1/lock")

// delScript deletes the record only while it still holds the caller's token.
// The compare and the delete must be one atomic step, otherwise a concurrent
// expiry-then-reacquire could be wiped out by a stale holder.
var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Locker using a Redis backend. It also exposes the
// namespace scanning operations the cleanup and metrics services need.
type Redis struct {
	client     *redis.Client
	prefix     string
	retryDelay time.Duration
	timeout    time.Duration
	rec        Recorder
	bus        events.Bus
	logger     *zap.Logger
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithPrefix overrides the lock namespace prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRetryDelay sets the base delay between acquisition attempts.
func WithRetryDelay(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.retryDelay = d
	}
}

// WithTimeout sets the per-operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.timeout = d
	}
}

// WithRecorder attaches acquisition accounting.
func WithRecorder(rec Recorder) RedisOption {
	return func(r *Redis) {
		r.rec = rec
	}
}

// WithBus publishes acquired/released events on the given bus.
func WithBus(bus events.Bus) RedisOption {
	return func(r *Redis) {
		r.bus = bus
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

// NewRedis returns a new Redis locker using the provided client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		prefix:     DefaultPrefix,
		retryDelay: defaultRetryDelay,
		timeout:    defaultOpTimeout,
		rec:        nopRecorder{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rec == nil {
		r.rec = nopRecorder{}
	}
	return r
}

// Prefix returns the namespace prefix in use.
func (r *Redis) Prefix() string {
	return r.prefix
}

// Acquire implements Locker.Acquire. maxRetries bounds the total number of
// SETNX attempts; values below one mean a single attempt. Store failures are
// treated as "did not acquire": a connection-level failure aborts the loop,
// a timeout burns the attempt and retries.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration, maxRetries int) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}
	ctx, span := tracer.Start(ctx, "lock.Acquire")
	span.SetAttributes(attribute.String("lock.key", key), attribute.Int("lock.max_retries", attempts))
	defer span.End()

	token := uuid.NewString()
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := r.backoff(ctx); err != nil {
				r.rec.Missed()
				return "", err
			}
		}
		r.rec.Attempt()
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		ok, err := r.client.SetNX(cctx, r.prefix+key, token, ttl).Result()
		cancel()
		if err != nil {
			lastErr = latcherrors.Classify(err)
			r.logger.Warn("lock acquire attempt failed", zap.String("key", key), zap.Error(err))
			if stdErrors.Is(lastErr, latcherrors.ErrConnectionClosed) {
				break
			}
			continue
		}
		if ok {
			r.rec.Acquired()
			r.publish(ctx, key, events.KindAcquired)
			return token, nil
		}
	}
	r.rec.Missed()
	return "", lastErr
}

func (r *Redis) backoff(ctx context.Context) error {
	d := r.retryDelay
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)))
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release implements Locker.Release. A false result is not an error: the key
// was absent or had been reacquired under a different token, and the TTL is
// the backstop either way.
func (r *Redis) Release(ctx context.Context, key, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "lock.Release")
	span.SetAttributes(attribute.String("lock.key", key))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := delScript.Run(cctx, r.client, []string{r.prefix + key}, token).Int64()
	if err != nil && err != redis.Nil {
		r.logger.Warn("lock release failed, ttl will reclaim it", zap.String("key", key), zap.Error(err))
		return false, latcherrors.Classify(err)
	}
	if res != 1 {
		return false, nil
	}
	r.rec.Released()
	r.publish(ctx, key, events.KindReleased)
	return true, nil
}

// IsLocked implements Locker.IsLocked.
func (r *Redis) IsLocked(ctx context.Context, key string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.client.Exists(cctx, r.prefix+key).Result()
	if err != nil {
		return false, latcherrors.Classify(err)
	}
	return n > 0, nil
}

// Owner implements Locker.Owner. It returns "" when the key is free.
func (r *Redis) Owner(ctx context.Context, key string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	token, err := r.client.Get(cctx, r.prefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", latcherrors.Classify(err)
	}
	return token, nil
}

// RemainingTTL implements Locker.RemainingTTL.
func (r *Redis) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	d, err := r.client.TTL(cctx, r.prefix+key).Result()
	if err != nil {
		return 0, false, latcherrors.Classify(err)
	}
	switch {
	case d == -2: // key absent
		return 0, false, nil
	case d == -1: // present, no expiry
		return NoExpiry, true, nil
	default:
		return d, true, nil
	}
}

// Scan walks the lock namespace one batch at a time and returns logical keys
// with the prefix stripped. Pass the returned cursor back in to resume; a
// zero cursor means the walk wrapped around.
func (r *Redis) Scan(ctx context.Context, cursor uint64, limit int64) ([]string, uint64, error) {
	if limit <= 0 {
		limit = scanBatch
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	raw, next, err := r.client.Scan(cctx, cursor, r.prefix+"*", limit).Result()
	if err != nil {
		return nil, 0, latcherrors.Classify(err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(r.prefix):])
	}
	return keys, next, nil
}

// Count returns the number of records currently in the lock namespace. It
// walks the whole namespace, so it is for health checks and admin surfaces,
// never hot paths.
func (r *Redis) Count(ctx context.Context) (int64, error) {
	var total int64
	var cursor uint64
	for {
		keys, next, err := r.Scan(ctx, cursor, scanBatch)
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Expire rewrites the TTL of an existing record. Reserved for the cleanup
// service, which uses it to clamp records whose TTL violates policy.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ok, err := r.client.Expire(cctx, r.prefix+key, ttl).Result()
	if err != nil {
		return false, latcherrors.Classify(err)
	}
	return ok, nil
}

// ForceRelease deletes a record regardless of who owns it. Reserved for the
// cleanup service and operators.
func (r *Redis) ForceRelease(ctx context.Context, key string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.client.Del(cctx, r.prefix+key).Result()
	if err != nil {
		return false, latcherrors.Classify(err)
	}
	return n > 0, nil
}

func (r *Redis) publish(ctx context.Context, key string, kind events.Kind) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, events.Event{
		ID:   uuid.NewString(),
		Key:  key,
		Kind: kind,
		At:   time.Now().UTC(),
	})
}

var _ Locker = (*Redis)(nil)
