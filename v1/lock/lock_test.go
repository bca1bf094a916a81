package lock

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryAcquireRelease(t *testing.T) {
	l := NewInMemory(WithInMemoryRetryDelay(time.Millisecond))
	ctx := context.Background()

	token, err := l.Acquire(ctx, "k", time.Second, 1)
	if err != nil || token == "" {
		t.Fatalf("acquire: %v token %q", err, token)
	}
	if tok2, err := l.Acquire(ctx, "k", time.Second, 1); err != nil || tok2 != "" {
		t.Fatalf("expected contention, token %q err %v", tok2, err)
	}
	if ok, err := l.Release(ctx, "k", token); err != nil || !ok {
		t.Fatalf("release: %v ok %v", err, ok)
	}
	if tok3, err := l.Acquire(ctx, "k", time.Second, 1); err != nil || tok3 == "" {
		t.Fatalf("reacquire: %v token %q", err, tok3)
	}
}

func TestInMemoryTokenDiscipline(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	token, _ := l.Acquire(ctx, "k", time.Second, 1)
	if ok, err := l.Release(ctx, "k", "wrong"); err != nil || ok {
		t.Fatalf("wrong token release must be a no-op, ok %v err %v", ok, err)
	}
	if owner, _ := l.Owner(ctx, "k"); owner != token {
		t.Fatalf("owner changed: %q want %q", owner, token)
	}
}

func TestInMemoryTTLExpires(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if token, err := l.Acquire(ctx, "k", 10*time.Millisecond, 1); err != nil || token == "" {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if token, err := l.Acquire(ctx, "k", time.Second, 1); err != nil || token == "" {
		t.Fatalf("lock should expire, token %q err %v", token, err)
	}
}

func TestInMemoryAcquireRespectsContext(t *testing.T) {
	l := NewInMemory(WithInMemoryRetryDelay(5 * time.Millisecond))
	ctx := context.Background()
	_, _ = l.Acquire(ctx, "k", time.Minute, 1)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	start := time.Now()
	token, err := l.Acquire(cctx, "k", time.Minute, 100)
	if token != "" || err == nil {
		t.Fatalf("expected context error, token %q err %v", token, err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("acquire did not respect context timeout")
	}
}

func TestInMemoryRemainingTTL(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	if _, held, err := l.RemainingTTL(ctx, "k"); err != nil || held {
		t.Fatalf("free key: held %v err %v", held, err)
	}
	_, _ = l.Acquire(ctx, "k", time.Minute, 1)
	ttl, held, err := l.RemainingTTL(ctx, "k")
	if err != nil || !held || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl %v held %v err %v", ttl, held, err)
	}
}
