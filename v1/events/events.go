package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Kind describes what happened to a lock.
type Kind string

const (
	// KindAcquired is published when a lock is granted.
	KindAcquired Kind = "acquired"
	// KindReleased is published when a holder releases its lock.
	KindReleased Kind = "released"
	// KindCleaned is published when the cleanup service removes a record.
	KindCleaned Kind = "cleaned"
	// KindForced is published when an operator force-removes all records.
	KindForced Kind = "forced"
)

// Event is a single lock lifecycle notification.
type Event struct {
	ID   string    `json:"id"`
	Key  string    `json:"key"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
}

// Bus fans lock events out to subscribers. Implementations must never block
// the publisher: slow subscribers drop events.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
	Unsubscribe(ctx context.Context, ch <-chan Event) error
}

// Metrics reports publish/delivery counts for a bus.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// InMemoryBus is a local implementation of Bus mainly for testing and
// single-process deployments.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      []chan Event
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// Publish implements Bus.Publish. Delivery happens under the same mutex that
// guards Unsubscribe's close, so a channel can never be closed mid-send; the
// sends are non-blocking, so holding the lock is cheap.
func (b *InMemoryBus) Publish(ctx context.Context, ev Event) error {
	b.published.Add(1)
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			b.delivered.Add(1)
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
	b.mu.Lock()
	for i, c := range b.subs {
		if c == ch {
			b.subs[i] = b.subs[len(b.subs)-1]
			b.subs = b.subs[:len(b.subs)-1]
			close(c)
			break
		}
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
