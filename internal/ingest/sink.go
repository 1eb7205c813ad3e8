package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// Sink receives every accepted envelope for downstream consumers. Publish
// failures never reject the originating request; the event is already stored.
type Sink interface {
	Publish(ctx context.Context, env mta.Envelope) error
	Close() error
}

// NopSink discards envelopes. Used when no brokers are configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, mta.Envelope) error { return nil }
func (NopSink) Close() error                                { return nil }

// messageWriter is the slice of kafka.Writer the sink needs. Tests substitute
// an in-memory fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes accepted envelopes to a Kafka topic. Messages are keyed
// by device ID and hashed to partitions, so one device's journey stays in one
// partition and consumers see its events in ingest order.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic via the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		MaxAttempts:            3,
	}

	return &KafkaSink{writer: writer}
}

// Publish writes one envelope to the topic.
func (s *KafkaSink) Publish(ctx context.Context, env mta.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "ingest: marshal envelope")
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.DeviceID),
		Value: payload,
	})
	return eris.Wrap(err, "ingest: publish envelope")
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
