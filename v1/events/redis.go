package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultRedisChannel = "latch:events"
	redisPublishTimeout = 5 * time.Second
)

// RedisBus implements Bus using Redis pub/sub. All events travel on a single
// channel; every subscriber sees every event.
type RedisBus struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	subs   []chan Event
	pubsub *redis.PubSub

	published atomic.Uint64
	delivered atomic.Uint64
	closeCh   chan struct{}
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

// WithChannel overrides the pub/sub channel name.
func WithChannel(name string) RedisBusOption {
	return func(b *RedisBus) {
		b.channel = name
	}
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{
		client:  client,
		channel: defaultRedisChannel,
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pubsub = client.Subscribe(context.Background(), b.channel)
	go b.dispatch()
	return b
}

func (b *RedisBus) dispatch() {
	msgs := b.pubsub.Channel()
	for {
		select {
		case <-b.closeCh:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			// Deliver under the mutex so Unsubscribe cannot close a channel
			// mid-send. Sends are non-blocking.
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
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, b.channel, payload).Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
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
func (b *RedisBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
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

// Close stops the dispatcher and closes the underlying subscription.
func (b *RedisBus) Close() error {
	select {
	case <-b.closeCh:
		return nil
	default:
	}
	close(b.closeCh)
	return b.pubsub.Close()
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
