// Package kafka delivers audit events to a Kafka topic so downstream
// compliance consumers can build their own views of the verification trail.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "kycgate/pkg/platform/audit"
)

const DefaultTopic = "kycgate.audit"

// Sink produces audit events to a Kafka topic.
type Sink struct {
	client *kgo.Client
	topic  string
}

type Option func(*Sink)

func WithTopic(topic string) Option {
	return func(s *Sink) {
		s.topic = topic
	}
}

// NewSink connects to the given brokers. The caller owns the sink and must
// Close it on shutdown.
func NewSink(brokers []string, opts ...Option) (*Sink, error) {
	s := &Sink{topic: DefaultTopic}
	for _, opt := range opts {
		opt(s)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(s.topic),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka audit sink: %w", err)
	}
	s.client = client
	return s, nil
}

// Deliver produces the event synchronously. Events are keyed by owner so a
// single owner's trail stays ordered within a partition.
func (s *Sink) Deliver(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.OwnerID),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}
