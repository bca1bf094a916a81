package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCounter struct {
	calls atomic.Int64
	n     int64
	err   error
}

func (f *fakeCounter) Count(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}

func TestStatsAccounting(t *testing.T) {
	s := New()
	s.Attempt()
	s.Attempt()
	s.Acquired()
	s.Missed()
	s.Acquired()
	s.Released()

	snap := s.Snapshot()
	if snap.Attempts != 2 || snap.Acquired != 2 || snap.Missed != 1 || snap.Released != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Active != 1 {
		t.Fatalf("active %d, want 1", snap.Active)
	}
	if snap.SuccessRate != 100 {
		t.Fatalf("success rate %v, want 100", snap.SuccessRate)
	}
}

func TestStatsSuccessRate(t *testing.T) {
	s := New()
	if rate := s.SuccessRate(); rate != 100 {
		t.Fatalf("idle rate %v, want 100", rate)
	}
	for i := 0; i < 4; i++ {
		s.Attempt()
	}
	s.Acquired()
	if rate := s.SuccessRate(); rate != 25 {
		t.Fatalf("rate %v, want 25", rate)
	}
}

func TestStatsActiveNeverNegative(t *testing.T) {
	s := New()
	s.Reset()
	s.Released()
	s.Released()
	if got := s.ActiveLockCount(); got != 0 {
		t.Fatalf("active %d, want 0", got)
	}
	if got := testutil.ToFloat64(ActiveGauge); got != 0 {
		t.Fatalf("gauge %v, want 0", got)
	}
}

func TestStatsReset(t *testing.T) {
	s := New()
	s.Attempt()
	s.Acquired()
	s.Reset()
	snap := s.Snapshot()
	if snap.Attempts != 0 || snap.Acquired != 0 || snap.Active != 0 {
		t.Fatalf("reset left state behind: %+v", snap)
	}
}

func TestActualActiveLockCount(t *testing.T) {
	fc := &fakeCounter{n: 7}
	s := New(WithStoreCounter(fc))
	n, err := s.ActualActiveLockCount(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("actual %d err %v, want 7", n, err)
	}
}

func TestActualActiveLockCountNoStore(t *testing.T) {
	s := New()
	if _, err := s.ActualActiveLockCount(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestActualActiveLockCountError(t *testing.T) {
	fc := &fakeCounter{err: errors.New("boom")}
	s := New(WithStoreCounter(fc))
	if _, err := s.ActualActiveLockCount(context.Background()); err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestBindStore(t *testing.T) {
	s := New()
	s.BindStore(&fakeCounter{n: 3})
	n, err := s.ActualActiveLockCount(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("actual %d err %v, want 3", n, err)
	}
}
