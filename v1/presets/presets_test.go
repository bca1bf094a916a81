package presets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirkobrombin/go-latch/v1/events"
	"github.com/mirkobrombin/go-latch/v1/manager"
)

func TestStandaloneSystem(t *testing.T) {
	sys := NewStandalone()
	ctx := context.Background()

	ran := false
	ok, err := sys.Manager.CartOp(ctx, "42", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ok {
		t.Fatalf("cart op ran=%v err=%v", ok, err)
	}
	if !ran {
		t.Fatal("critical section did not run")
	}
	if snap := sys.Stats.Snapshot(); snap.Acquired != 1 || snap.Released != 1 {
		t.Fatalf("snapshot %+v, want one acquire and one release", snap)
	}
	if sys.Cleanup != nil {
		t.Fatal("standalone system must not have a cleanup service")
	}
	if sys.AdminMux() != nil {
		t.Fatal("standalone system must not expose an admin mux")
	}
}

func TestRedisSystem(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	bus := events.NewInMemoryBus()
	sys := NewRedis(RedisOptions{Addr: mr.Addr()}, WithBus(bus))
	defer sys.Client.Close()
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sys.Manager.OrderOp(ctx, "9", func(ctx context.Context) error {
		locked, err := sys.Locker.IsLocked(ctx, "order:process:9")
		if err != nil {
			return err
		}
		if !locked {
			t.Error("order lock not held inside critical section")
		}
		return nil
	}); err != nil {
		t.Fatalf("order op: %v", err)
	}

	if snap := sys.Stats.Snapshot(); snap.Acquired != 1 || snap.Released != 1 {
		t.Fatalf("snapshot %+v, want one acquire and one release", snap)
	}
	if mux := sys.AdminMux(); mux == nil {
		t.Fatal("redis system must expose an admin mux")
	}

	kinds := map[events.Kind]bool{}
	for len(kinds) < 2 {
		select {
		case ev := <-ch:
			kinds[ev.Kind] = true
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for events, got %v", kinds)
		}
	}
	if !kinds[events.KindAcquired] || !kinds[events.KindReleased] {
		t.Fatalf("kinds %v, want acquired and released", kinds)
	}
}

func TestRedisSystemCleanupWired(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	sys := NewRedis(RedisOptions{Addr: mr.Addr()},
		WithBus(events.NewInMemoryBus()),
		WithCleanupOptions(),
	)
	defer sys.Client.Close()
	ctx := context.Background()

	if err := mr.Set("latch:lock:orphan", "x"); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}
	if removed := sys.Cleanup.OrphanSweep(ctx); removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}

	st, err := sys.Cleanup.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Enabled {
		t.Fatalf("cleanup disabled in %+v", st)
	}
}

func TestStandaloneContention(t *testing.T) {
	sys := NewStandalone()
	ctx := context.Background()

	done := make(chan struct{})
	blocked := make(chan struct{})
	go func() {
		_, _ = sys.Manager.Do(ctx, "cart:user:7", time.Minute, 1, func(ctx context.Context) error {
			close(blocked)
			<-done
			return nil
		})
	}()
	<-blocked

	err := sys.Manager.DoOrFail(ctx, "cart:user:7", time.Second, 1, func(ctx context.Context) error {
		t.Error("second holder entered the critical section")
		return nil
	})
	if !errors.Is(err, manager.ErrNotAcquired) {
		t.Fatalf("err %v, want ErrNotAcquired", err)
	}
	close(done)
}
