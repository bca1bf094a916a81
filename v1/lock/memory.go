package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type record struct {
	token     string
	timer     *time.Timer
	expiresAt time.Time
}

// InMemory implements Locker using local memory. It exists for tests and
// single-process deployments; it honors the same token and TTL discipline as
// the Redis implementation.
type InMemory struct {
	mu         sync.Mutex
	records    map[string]*record
	retryDelay time.Duration
	rec        Recorder
}

// InMemoryOption configures an InMemory locker.
type InMemoryOption func(*InMemory)

// WithInMemoryRetryDelay sets the delay between acquisition attempts.
func WithInMemoryRetryDelay(d time.Duration) InMemoryOption {
	return func(l *InMemory) {
		l.retryDelay = d
	}
}

// WithInMemoryRecorder attaches acquisition accounting.
func WithInMemoryRecorder(rec Recorder) InMemoryOption {
	return func(l *InMemory) {
		l.rec = rec
	}
}

// NewInMemory returns a new in-memory locker.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	l := &InMemory{
		records:    make(map[string]*record),
		retryDelay: defaultRetryDelay,
		rec:        nopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.rec == nil {
		l.rec = nopRecorder{}
	}
	return l
}

// Acquire implements Locker.Acquire.
func (l *InMemory) Acquire(ctx context.Context, key string, ttl time.Duration, maxRetries int) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(l.retryDelay):
			case <-ctx.Done():
				l.rec.Missed()
				return "", ctx.Err()
			}
		}
		l.rec.Attempt()
		token := uuid.NewString()
		l.mu.Lock()
		if _, held := l.records[key]; !held {
			rec := &record{token: token, expiresAt: time.Now().Add(ttl)}
			rec.timer = time.AfterFunc(ttl, func() {
				l.expire(key, token)
			})
			l.records[key] = rec
			l.mu.Unlock()
			l.rec.Acquired()
			return token, nil
		}
		l.mu.Unlock()
	}
	l.rec.Missed()
	return "", nil
}

func (l *InMemory) expire(key, token string) {
	l.mu.Lock()
	if rec, ok := l.records[key]; ok && rec.token == token {
		delete(l.records, key)
	}
	l.mu.Unlock()
}

// Release implements Locker.Release.
func (l *InMemory) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	rec, ok := l.records[key]
	if !ok || rec.token != token {
		l.mu.Unlock()
		return false, nil
	}
	rec.timer.Stop()
	delete(l.records, key)
	l.mu.Unlock()
	l.rec.Released()
	return true, nil
}

// IsLocked implements Locker.IsLocked.
func (l *InMemory) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	_, ok := l.records[key]
	l.mu.Unlock()
	return ok, nil
}

// Owner implements Locker.Owner.
func (l *InMemory) Owner(ctx context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[key]; ok {
		return rec.token, nil
	}
	return "", nil
}

// RemainingTTL implements Locker.RemainingTTL.
func (l *InMemory) RemainingTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return 0, false, nil
	}
	d := time.Until(rec.expiresAt)
	if d < 0 {
		d = 0
	}
	return d, true, nil
}

var _ Locker = (*InMemory)(nil)
