package repository

import (
	"context"
	"errors"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	pkgkafka "BarHarvest/pkg/kafka"
)

// batchPublisher is the part of pkg/kafka.Producer the outcome sink needs.
type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaOutcomeSink publishes one JSON event per pair outcome, keyed by symbol so a symbol's
// events stay on one partition.
type KafkaOutcomeSink struct {
	producer batchPublisher
	topic    string
}

var _ repository.OutcomeSink = (*KafkaOutcomeSink)(nil)

func NewKafkaOutcomeSink(producer *pkgkafka.Producer, topic string) *KafkaOutcomeSink {
	return &KafkaOutcomeSink{producer: producer, topic: topic}
}

func (s *KafkaOutcomeSink) Record(ctx context.Context, outcomes []models.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(outcomes))
	for i, o := range outcomes {
		msgs[i] = pkgkafka.Message{Key: []byte(o.Symbol), Value: o}
	}
	return s.producer.PublishBatch(ctx, s.topic, msgs)
}

func (s *KafkaOutcomeSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// MultiSink fans outcomes out to every configured sink. A failing sink does not stop the others.
type MultiSink struct {
	sinks []repository.OutcomeSink
}

var _ repository.OutcomeSink = (*MultiSink)(nil)

func NewMultiSink(sinks ...repository.OutcomeSink) *MultiSink {
	filtered := make([]repository.OutcomeSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Len() int { return len(m.sinks) }

func (m *MultiSink) Record(ctx context.Context, outcomes []models.Outcome) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, outcomes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
