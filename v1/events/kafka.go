package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

const defaultKafkaTopic = "latch-events"

// ErrSinkOnly is returned when Subscribe is called on a publish-only bus.
var ErrSinkOnly = errors.New("events: bus is publish-only")

// KafkaSink implements the publish side of Bus on top of Kafka. It exists to
// feed lock activity into an external audit pipeline; consumption happens
// outside this module, so Subscribe returns ErrSinkOnly.
type KafkaSink struct {
	producer  sarama.SyncProducer
	topic     string
	published atomic.Uint64
}

// KafkaSinkOption configures a KafkaSink.
type KafkaSinkOption func(*KafkaSink)

// WithTopic overrides the Kafka topic name.
func WithTopic(topic string) KafkaSinkOption {
	return func(s *KafkaSink) {
		s.topic = topic
	}
}

// NewKafkaSink returns a new KafkaSink connected to the given brokers.
// The provided config must have Producer.Return.Successes enabled; a nil
// config gets a suitable default.
func NewKafkaSink(brokers []string, config *sarama.Config, opts ...KafkaSinkOption) (*KafkaSink, error) {
	if config == nil {
		config = sarama.NewConfig()
		config.Producer.Return.Successes = true
	}
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	s := &KafkaSink{producer: producer, topic: defaultKafkaTopic}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Publish implements Bus.Publish. Events are keyed by lock key so per-key
// ordering survives partitioning.
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.Key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return err
	}
	s.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe and always fails: the sink is write-only.
func (s *KafkaSink) Subscribe(ctx context.Context) (<-chan Event, error) {
	return nil, ErrSinkOnly
}

// Unsubscribe implements Bus.Unsubscribe.
func (s *KafkaSink) Unsubscribe(ctx context.Context, ch <-chan Event) error {
	return nil
}

// Close shuts down the underlying producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

// Metrics returns the published count. Delivered is always zero for a sink.
func (s *KafkaSink) Metrics() Metrics {
	return Metrics{Published: s.published.Load()}
}
