package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"BarHarvest/pkg/logger"
)

// Delivery is one handling attempt of a consumed message.
type Delivery struct {
	Topic   string
	Message kafka.Message
	// Payload is what the handler receives. Before hooks may replace it.
	Payload []byte
	Attempt int
}

// ConsumerHook observes message handling. An error from Before skips the handler and
// counts as a failed attempt.
type ConsumerHook interface {
	Before(ctx context.Context, d *Delivery) (context.Context, error)
	After(ctx context.Context, d Delivery, err error)
	GaveUp(ctx context.Context, d Delivery, err error)
}

// HookFuncs adapts plain functions to ConsumerHook. Nil members do nothing, so the
// zero value is a no-op hook.
type HookFuncs struct {
	OnBefore func(context.Context, *Delivery) (context.Context, error)
	OnAfter  func(context.Context, Delivery, error)
	OnGaveUp func(context.Context, Delivery, error)
}

func (h HookFuncs) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	if h.OnBefore == nil {
		return ctx, nil
	}
	return h.OnBefore(ctx, d)
}

func (h HookFuncs) After(ctx context.Context, d Delivery, err error) {
	if h.OnAfter != nil {
		h.OnAfter(ctx, d, err)
	}
}

func (h HookFuncs) GaveUp(ctx context.Context, d Delivery, err error) {
	if h.OnGaveUp != nil {
		h.OnGaveUp(ctx, d, err)
	}
}

type traceKey struct{}

const traceHeader = "trace_id"

// TraceID returns the id NewLoggingHook took from the trace_id header, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceKey{}).(string)
	return v
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// NewLoggingHook carries the trace_id header on the context and logs each attempt.
func NewLoggingHook(log *logger.Logger) ConsumerHook {
	return HookFuncs{
		OnBefore: func(ctx context.Context, d *Delivery) (context.Context, error) {
			if id := headerValue(d.Message, traceHeader); id != "" {
				ctx = context.WithValue(ctx, traceKey{}, id)
			}
			return ctx, nil
		},
		OnAfter: func(ctx context.Context, d Delivery, err error) {
			fields := []logger.Field{
				logger.String("topic", d.Topic),
				logger.Int("partition", d.Message.Partition),
				logger.Int64("offset", d.Message.Offset),
				logger.Int("attempt", d.Attempt),
			}
			if id := TraceID(ctx); id != "" {
				fields = append(fields, logger.String("trace_id", id))
			}
			if err != nil {
				log.Warn("message handler failed", append(fields, logger.Error(err))...)
				return
			}
			log.Debug("message handled", fields...)
		},
	}
}
