package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer wraps a kafka-go writer.
type Producer struct {
	writer *kafka.Writer
	comp   string

	closeOnce sync.Once
	closeErr  error
}

type writerSettings struct {
	brokers     []string
	acks        int
	attempts    int
	compression string
	batchSize   int
	batchBytes  int
	linger      time.Duration
	write, read time.Duration
	async       bool
	byKey       bool
}

// ProducerOption adjusts the writer built by NewProducer.
type ProducerOption func(*writerSettings)

func WithBrokers(brokers []string) ProducerOption {
	return func(s *writerSettings) { s.brokers = brokers }
}

// WithDelivery sets required acks (-1 waits for all replicas) and writer attempts.
func WithDelivery(acks, attempts int) ProducerOption {
	return func(s *writerSettings) {
		s.acks = acks
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

func WithCompression(codec string) ProducerOption {
	return func(s *writerSettings) { s.compression = codec }
}

// WithBatching flushes a batch at size messages, bytes bytes or after linger, whichever comes first.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(s *writerSettings) {
		if size > 0 {
			s.batchSize = size
		}
		if bytes > 0 {
			s.batchBytes = bytes
		}
		if linger > 0 {
			s.linger = linger
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(s *writerSettings) {
		s.write, s.read = write, read
	}
}

// WithAsync makes writes fire-and-forget; errors then only show in metrics.
func WithAsync(async bool) ProducerOption {
	return func(s *writerSettings) { s.async = async }
}

// WithKeyHashing routes equal keys to the same partition.
func WithKeyHashing(on bool) ProducerOption {
	return func(s *writerSettings) { s.byKey = on }
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	s := writerSettings{
		acks:        -1,
		attempts:    3,
		compression: "gzip",
		batchSize:   100,
		batchBytes:  1 << 20,
		linger:      time.Second,
		write:       10 * time.Second,
		read:        10 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if len(s.brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers configured")
	}

	initMetrics()
	return &Producer{writer: s.writer(), comp: s.compression}, nil
}

func (s writerSettings) writer() *kafka.Writer {
	var bal kafka.Balancer = &kafka.LeastBytes{}
	if s.byKey {
		bal = &kafka.Hash{}
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(s.brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(s.acks),
		Compression:  parseCompression(s.compression),
		MaxAttempts:  s.attempts,
		WriteTimeout: s.write,
		ReadTimeout:  s.read,
		BatchSize:    s.batchSize,
		BatchBytes:   int64(s.batchBytes),
		BatchTimeout: s.linger,
		Async:        s.async,
	}
}

// Publish sends one message. value may be []byte, string or anything JSON-encodable.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage lets the producer serve as the log collector's publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// PublishBatch sends multiple messages to the specified topic in one write.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	msgs := make([]kafka.Message, 0, len(messages))
	var totalBytes int64
	for _, m := range messages {
		v, err := encodeValue(m.Value)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   m.Key,
			Value: v,
			Time:  start,
		})
		totalBytes += int64(len(v))
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	observeProducer(topic, p.comp, totalBytes, len(messages), time.Since(start), err)
	return err
}

// Close flushes and closes the writer. Later calls return the first result.
func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		if p.writer != nil {
			p.closeErr = p.writer.Close()
		}
	})
	return p.closeErr
}

// Message represents a Kafka message.
type Message struct {
	Key   []byte
	Value interface{}
}

func encodeValue(value interface{}) ([]byte, error) {
	switch val := value.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		v, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return v, nil
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

func observeProducer(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	if producerMsgsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		producerErrsTotal.WithLabelValues(topic).Inc()
	}
	producerMsgsTotal.WithLabelValues(topic, comp, result).Add(float64(count))
	producerBytesTotal.WithLabelValues(topic, comp).Add(float64(bytes))
	producerLatencyHist.WithLabelValues(topic).Observe(dur.Seconds())
}
