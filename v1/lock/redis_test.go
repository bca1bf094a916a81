package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

type countingRecorder struct {
	attempts atomic.Int64
	acquired atomic.Int64
	missed   atomic.Int64
	released atomic.Int64
}

func (r *countingRecorder) Attempt()  { r.attempts.Add(1) }
func (r *countingRecorder) Acquired() { r.acquired.Add(1) }
func (r *countingRecorder) Missed()   { r.missed.Add(1) }
func (r *countingRecorder) Released() { r.released.Add(1) }

func newRedisLocker(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opts = append([]RedisOption{WithRetryDelay(time.Millisecond)}, opts...)
	locker := NewRedis(client, opts...)
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return locker, mr, context.Background()
}

func TestRedisAcquireReleaseRoundTrip(t *testing.T) {
	l, _, ctx := newRedisLocker(t)

	token, err := l.Acquire(ctx, "k", time.Second, 1)
	if err != nil || token == "" {
		t.Fatalf("acquire: %v token %q", err, token)
	}
	if tok2, err := l.Acquire(ctx, "k", time.Second, 1); err != nil || tok2 != "" {
		t.Fatalf("expected contention, token %q err %v", tok2, err)
	}
	ok, err := l.Release(ctx, "k", token)
	if err != nil || !ok {
		t.Fatalf("release: %v ok %v", err, ok)
	}
	if tok3, err := l.Acquire(ctx, "k", time.Second, 1); err != nil || tok3 == "" {
		t.Fatalf("reacquire after release: %v token %q", err, tok3)
	}
}

func TestRedisTokenDiscipline(t *testing.T) {
	l, _, ctx := newRedisLocker(t)

	token, err := l.Acquire(ctx, "k", time.Second, 1)
	if err != nil || token == "" {
		t.Fatalf("acquire: %v token %q", err, token)
	}
	if ok, err := l.Release(ctx, "k", "not-the-token"); err != nil || ok {
		t.Fatalf("release with wrong token must be a no-op, ok %v err %v", ok, err)
	}
	if locked, err := l.IsLocked(ctx, "k"); err != nil || !locked {
		t.Fatalf("lock must survive foreign release, locked %v err %v", locked, err)
	}
	if ok, err := l.Release(ctx, "k", token); err != nil || !ok {
		t.Fatalf("release with owner token: %v ok %v", err, ok)
	}
}

func TestRedisBoundedRetry(t *testing.T) {
	rec := &countingRecorder{}
	l, _, ctx := newRedisLocker(t, WithRecorder(rec))

	if token, err := l.Acquire(ctx, "k", time.Minute, 1); err != nil || token == "" {
		t.Fatalf("initial acquire: %v token %q", err, token)
	}
	before := rec.attempts.Load()
	token, err := l.Acquire(ctx, "k", time.Minute, 3)
	if err != nil || token != "" {
		t.Fatalf("expected clean miss, token %q err %v", token, err)
	}
	if got := rec.attempts.Load() - before; got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if rec.missed.Load() != 1 {
		t.Fatalf("expected one miss recorded, got %d", rec.missed.Load())
	}
}

func TestRedisTTLBackstop(t *testing.T) {
	l, mr, ctx := newRedisLocker(t)

	if token, err := l.Acquire(ctx, "k", time.Second, 1); err != nil || token == "" {
		t.Fatalf("acquire: %v token %q", err, token)
	}
	mr.FastForward(1100 * time.Millisecond)
	if token, err := l.Acquire(ctx, "k", time.Second, 1); err != nil || token == "" {
		t.Fatalf("lock should expire after ttl, token %q err %v", token, err)
	}
}

func TestRedisFailClosed(t *testing.T) {
	l, mr, ctx := newRedisLocker(t)
	mr.Close()

	token, err := l.Acquire(ctx, "k", time.Second, 2)
	if token != "" {
		t.Fatalf("acquire against dead store must fail closed, token %q", token)
	}
	if err == nil {
		t.Fatal("expected infrastructure error")
	}
	// Release must not escalate either; the TTL is the backstop.
	if ok, _ := l.Release(ctx, "k", "whatever"); ok {
		t.Fatal("release against dead store must report false")
	}
}

func TestRedisInvalidTTL(t *testing.T) {
	l, _, ctx := newRedisLocker(t)
	if _, err := l.Acquire(ctx, "k", 0, 1); err != ErrInvalidTTL {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestRedisIntrospection(t *testing.T) {
	l, mr, ctx := newRedisLocker(t)

	if locked, err := l.IsLocked(ctx, "k"); err != nil || locked {
		t.Fatalf("fresh key must be free, locked %v err %v", locked, err)
	}
	token, err := l.Acquire(ctx, "k", time.Minute, 1)
	if err != nil || token == "" {
		t.Fatalf("acquire: %v token %q", err, token)
	}
	owner, err := l.Owner(ctx, "k")
	if err != nil || owner != token {
		t.Fatalf("owner %q err %v, want %q", owner, err, token)
	}
	ttl, held, err := l.RemainingTTL(ctx, "k")
	if err != nil || !held || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl %v held %v err %v", ttl, held, err)
	}

	// A record written behind the primitive's back, without a TTL, must be
	// reported as NoExpiry so cleanup can find it.
	if err := mr.Set(l.Prefix()+"orphan", "x"); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}
	ttl, held, err = l.RemainingTTL(ctx, "orphan")
	if err != nil || !held || ttl != NoExpiry {
		t.Fatalf("orphan ttl %v held %v err %v", ttl, held, err)
	}
}

func TestRedisScanAndCount(t *testing.T) {
	l, _, ctx := newRedisLocker(t)

	keys := []string{"cart:user:1", "inventory:product:9", "order:process:7"}
	for _, k := range keys {
		if token, err := l.Acquire(ctx, k, time.Minute, 1); err != nil || token == "" {
			t.Fatalf("acquire %s: %v", k, err)
		}
	}
	n, err := l.Count(ctx)
	if err != nil || n != int64(len(keys)) {
		t.Fatalf("count %d err %v, want %d", n, err, len(keys))
	}
	seen := map[string]bool{}
	var cursor uint64
	for {
		batch, next, err := l.Scan(ctx, cursor, 10)
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		for _, k := range batch {
			seen[k] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	for _, k := range keys {
		if !seen[k] {
			t.Fatalf("scan missed logical key %q (got %v)", k, seen)
		}
	}
}

func TestRedisDoubleAcquireOrderKey(t *testing.T) {
	l, _, ctx := newRedisLocker(t)

	token, err := l.Acquire(ctx, "order:process:7", 60*time.Second, 3)
	if err != nil || token == "" {
		t.Fatalf("first acquire: %v token %q", err, token)
	}
	second, err := l.Acquire(ctx, "order:process:7", 60*time.Second, 3)
	if err != nil || second != "" {
		t.Fatalf("second acquire must miss, token %q err %v", second, err)
	}
}

func TestRedisMutualExclusion(t *testing.T) {
	l, _, ctx := newRedisLocker(t)

	var wg sync.WaitGroup
	var winners atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, err := l.Acquire(ctx, "k", time.Minute, 1); err == nil && token != "" {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one holder, got %d", winners.Load())
	}
}

func TestRedisForceRelease(t *testing.T) {
	l, _, ctx := newRedisLocker(t)

	if token, err := l.Acquire(ctx, "k", time.Minute, 1); err != nil || token == "" {
		t.Fatalf("acquire: %v", err)
	}
	ok, err := l.ForceRelease(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("force release: %v ok %v", err, ok)
	}
	if locked, err := l.IsLocked(ctx, "k"); err != nil || locked {
		t.Fatalf("key must be gone, locked %v err %v", locked, err)
	}
}
