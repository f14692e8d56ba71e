package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BarHarvest/pkg/logger"
)

type countingHandler struct {
	topic    string
	failures int
	calls    int
	last     []byte
}

func (h *countingHandler) Topic() string { return h.topic }

func (h *countingHandler) Handle(_ context.Context, data []byte) error {
	h.calls++
	h.last = data
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer([]string{"localhost:9092"},
		WithRetry(retries, time.Millisecond, 2*time.Millisecond),
		WithConsumerLogger(logger.Nop()),
	)
	require.NoError(t, err)
	return c
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(nil)
	assert.Error(t, err)
	_, err = NewProducer()
	assert.Error(t, err)
}

func TestProcessRetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t, 3)
	h := &countingHandler{topic: "harvest.recrawl", failures: 2}
	c.RegisterHandler(h)

	var after int
	c.SetHook(HookFuncs{OnAfter: func(_ context.Context, d Delivery, _ error) {
		after++
		assert.Equal(t, after, d.Attempt)
	}})

	c.process(&message{topic: h.topic, km: kafka.Message{Value: []byte(`{"symbol":"A"}`)}})
	assert.Equal(t, 3, h.calls)
	assert.Equal(t, 3, after)
	assert.Equal(t, `{"symbol":"A"}`, string(h.last))
}

func TestProcessGivesUpAfterRetryMax(t *testing.T) {
	c := newTestConsumer(t, 1)
	h := &countingHandler{topic: "t", failures: 10}
	c.RegisterHandler(h)

	var failed error
	c.SetHook(HookFuncs{OnGaveUp: func(_ context.Context, _ Delivery, err error) { failed = err }})

	c.process(&message{topic: "t", km: kafka.Message{Value: []byte("x")}})
	assert.Equal(t, 2, h.calls)
	assert.EqualError(t, failed, "transient")
}

func TestBeforeHookCanRewritePayload(t *testing.T) {
	c := newTestConsumer(t, 0)
	h := &countingHandler{topic: "t"}
	c.RegisterHandler(h)
	c.RegisterHandler(&countingHandler{topic: "t"})

	c.SetHook(HookFuncs{OnBefore: func(ctx context.Context, d *Delivery) (context.Context, error) {
		d.Payload = []byte("rewritten")
		return ctx, nil
	}})
	c.process(&message{topic: "t", km: kafka.Message{Value: []byte("orig")}})
	assert.Equal(t, "rewritten", string(h.last))

	c.process(&message{topic: "unknown"})
	assert.Equal(t, 1, h.calls)
}

func TestLoggingHookCarriesTraceID(t *testing.T) {
	hook := NewLoggingHook(logger.Nop())
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}

	ctx, err := hook.Before(context.Background(), &Delivery{Topic: "t", Message: km})
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	hook.After(ctx, Delivery{Topic: "t", Message: km, Attempt: 1}, errors.New("x"))

	ctx, _ = hook.Before(context.Background(), &Delivery{Topic: "t"})
	assert.Empty(t, TraceID(ctx))
}

func TestBackoffWithJitterStaysInRange(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}

func TestEncodeValue(t *testing.T) {
	v, err := encodeValue("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", string(v))

	v, err = encodeValue(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(v))

	_, err = encodeValue(func() {})
	assert.Error(t, err)
}
