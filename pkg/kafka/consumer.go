package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"BarHarvest/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type consumerSettings struct {
	brokers     []string
	group       string
	startOffset int64
	workers     int
	buffer      int
	retryMax    int
	backoffMin  time.Duration
	backoffMax  time.Duration
	dlqTopic    string
	minBytes    int
	maxBytes    int
	log         *logger.Logger
}

// ConsumerOption adjusts NewConsumer.
type ConsumerOption func(*consumerSettings)

func WithGroup(id string) ConsumerOption {
	return func(s *consumerSettings) {
		if id != "" {
			s.group = id
		}
	}
}

// WithStartOffset picks where a new group begins: "earliest" or "latest".
func WithStartOffset(reset string) ConsumerOption {
	return func(s *consumerSettings) {
		s.startOffset = kafka.FirstOffset
		if reset == "latest" {
			s.startOffset = kafka.LastOffset
		}
	}
}

// WithWorkers sets the handler pool size and the queue between readers and workers.
func WithWorkers(workers, buffer int) ConsumerOption {
	return func(s *consumerSettings) {
		if workers > 0 {
			s.workers = workers
		}
		if buffer > 0 {
			s.buffer = buffer
		}
	}
}

// WithRetry allows retries after the first attempt, backing off between the two bounds.
func WithRetry(retries int, minBackoff, maxBackoff time.Duration) ConsumerOption {
	return func(s *consumerSettings) {
		s.retryMax, s.backoffMin, s.backoffMax = retries, minBackoff, maxBackoff
	}
}

// WithDLQ sends messages that exhausted their retries to topic.
func WithDLQ(topic string) ConsumerOption {
	return func(s *consumerSettings) { s.dlqTopic = topic }
}

// WithFetch sets reader fetch sizes in bytes; zero keeps the default.
func WithFetch(minBytes, maxBytes int) ConsumerOption {
	return func(s *consumerSettings) {
		if minBytes > 0 {
			s.minBytes = minBytes
		}
		if maxBytes > 0 {
			s.maxBytes = maxBytes
		}
	}
}

func WithConsumerLogger(log *logger.Logger) ConsumerOption {
	return func(s *consumerSettings) { s.log = log }
}

// Consumer runs one reader per registered topic and a worker pool that calls the handlers.
// Messages of one partition are handled one at a time.
type Consumer struct {
	cfg      consumerSettings
	log      *logger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	msgChan  chan *message
	dlq      *kafka.Writer
	hook     ConsumerHook

	stopChan  chan struct{}
	stopOnce  sync.Once
	readerWg  sync.WaitGroup
	workerWg  sync.WaitGroup
	lockMu    sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
}

type message struct {
	topic string
	km    kafka.Message
}

// NewConsumer prepares a consumer; readers are created by Start for the registered topics.
func NewConsumer(brokers []string, opts ...ConsumerOption) (*Consumer, error) {
	cfg := consumerSettings{
		brokers:     brokers,
		group:       "barharvest",
		startOffset: kafka.FirstOffset,
		workers:     1,
		buffer:      10,
		retryMax:    3,
		backoffMin:  50 * time.Millisecond,
		backoffMax:  2 * time.Second,
		minBytes:    1,
		maxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}
	log := cfg.log
	if log == nil {
		log = logger.Nop()
	}

	c := &Consumer{
		cfg:       cfg,
		log:       log.With(logger.String("component", "kafka_consumer")),
		readers:   make(map[string]*kafka.Reader),
		handlers:  make(map[string]MessageHandler),
		msgChan:   make(chan *message, cfg.buffer),
		hook:      HookFuncs{},
		stopChan:  make(chan struct{}),
		partLocks: make(map[string]map[int]*sync.Mutex),
	}
	initMetrics()

	if cfg.dlqTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler registers a message handler for its topic. The first handler for a topic wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// SetHook replaces the hook; nil is ignored.
func (c *Consumer) SetHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start starts the readers and workers.
func (c *Consumer) Start() error {
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.brokers,
			Topic:       topic,
			GroupID:     c.cfg.group,
			StartOffset: c.cfg.startOffset,
			MinBytes:    c.cfg.minBytes,
			MaxBytes:    c.cfg.maxBytes,
		})
		c.log.Info("topic registered", logger.String("topic", topic))
	}

	for i := 0; i < c.cfg.workers; i++ {
		c.workerWg.Add(1)
		go c.messageWorker()
	}
	for topic, reader := range c.readers {
		c.readerWg.Add(1)
		go c.consumeMessages(topic, reader)
	}
	c.log.Info("consumer started", logger.Int("workers", c.cfg.workers), logger.Int("topics", len(c.readers)))
	return nil
}

// Stop stops readers first, then lets the workers drain the queue.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.log.Info("consumer stopping")
		close(c.stopChan)

		done := make(chan struct{})
		go func() {
			c.readerWg.Wait()
			close(c.msgChan)
			c.workerWg.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		case <-done:
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Error("close reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Error("close dlq writer", logger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("consumer stopped")
		}
	})
	return stopErr
}

func (c *Consumer) consumeMessages(topic string, reader *kafka.Reader) {
	defer c.readerWg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopChan
		cancel()
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				c.log.Warn("read message", logger.String("topic", topic), logger.Error(err))
			}
			continue
		}

		select {
		case c.msgChan <- &message{topic: topic, km: msg}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgChan)))
			consumerQueueFullness.WithLabelValues(topic).Set(float64(len(c.msgChan)) / float64(cap(c.msgChan)))
		case <-c.stopChan:
			return
		}
	}
}

func (c *Consumer) messageWorker() {
	defer c.workerWg.Done()
	for msg := range c.msgChan {
		c.process(msg)
	}
}

// process handles one message with retries, then publishes to the DLQ on failure and commits.
func (c *Consumer) process(msg *message) {
	handler, ok := c.handlers[msg.topic]
	if !ok {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in message handler", logger.String("topic", msg.topic), logger.Any("panic", r))
		}
		consumerHandleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())
	}()

	pl := c.partitionLock(msg.topic, msg.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	var err error
	attempts := 0
	for {
		attempts++
		d := Delivery{Topic: msg.topic, Message: msg.km, Payload: msg.km.Value, Attempt: attempts}
		hctx, berr := c.hook.Before(context.Background(), &d)
		if berr != nil {
			err = berr
			break
		}
		err = handler.Handle(hctx, d.Payload)
		c.hook.After(hctx, d, err)
		if err == nil || attempts > c.cfg.retryMax {
			break
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.backoffMin, c.cfg.backoffMax, attempts)):
		case <-c.stopChan:
			return
		}
	}

	if err != nil {
		consumerFailures.WithLabelValues(msg.topic).Inc()
		c.hook.GaveUp(context.Background(), Delivery{Topic: msg.topic, Message: msg.km, Payload: msg.km.Value, Attempt: attempts}, err)
		c.log.Error("message handling failed", logger.String("topic", msg.topic), logger.Int("attempts", attempts), logger.Error(err))
		if c.dlq != nil {
			if dlqErr := c.dlq.WriteMessages(context.Background(), kafka.Message{
				Topic:   c.cfg.dlqTopic,
				Value:   msg.km.Value,
				Time:    time.Now(),
				Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.topic)}},
			}); dlqErr != nil {
				c.log.Error("write dlq", logger.String("topic", c.cfg.dlqTopic), logger.Error(dlqErr))
			}
		}
	}

	// Commit on success, or after a DLQ write so poison messages do not loop.
	if err == nil || c.dlq != nil {
		if reader := c.readers[msg.topic]; reader != nil {
			_ = c.commitWithRetry(reader, msg.km, 3)
		}
	}
}

func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Error("commit offset", logger.Int("attempts", max), logger.Error(err))
	return err
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	m, ok := c.partLocks[topic]
	if !ok {
		m = make(map[int]*sync.Mutex)
		c.partLocks[topic] = m
	}
	l, ok := m[partition]
	if !ok {
		l = &sync.Mutex{}
		m[partition] = l
	}
	return l
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int64N(half))
}
