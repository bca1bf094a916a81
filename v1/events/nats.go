package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

const defaultNATSSubject = "latch.events"

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn    *nats.Conn
	subject string

	mu   sync.Mutex
	subs []chan Event
	nsub *nats.Subscription

	published atomic.Uint64
	delivered atomic.Uint64
}

// NATSBusOption configures a NATSBus.
type NATSBusOption func(*NATSBus)

// WithSubject overrides the NATS subject name.
func WithSubject(subject string) NATSBusOption {
	return func(b *NATSBus) {
		b.subject = subject
	}
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn, opts ...NATSBusOption) (*NATSBus, error) {
	b := &NATSBus{conn: conn, subject: defaultNATSSubject}
	for _, opt := range opts {
		opt(b)
	}
	nsub, err := conn.Subscribe(b.subject, b.handler)
	if err != nil {
		return nil, err
	}
	b.nsub = nsub
	return b, nil
}

func (b *NATSBus) handler(m *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return
	}
	// Deliver under the mutex so Unsubscribe cannot close a channel mid-send.
	// Sends are non-blocking.
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			b.delivered.Add(1)
		default:
		}
	}
	b.mu.Unlock()
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context) (<-chan Event, error) {
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
func (b *NATSBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
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

// Close drains the underlying subscription.
func (b *NATSBus) Close() error {
	return b.nsub.Unsubscribe()
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
