package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"BarHarvest/internal/domain/models"
	domrepo "BarHarvest/internal/domain/repository"
	pkgkafka "BarHarvest/pkg/kafka"
	"BarHarvest/pkg/logger"
	pkgmetrics "BarHarvest/pkg/metrics"
)

// Recrawler is the part of the harvester that accepts recrawl commands.
type Recrawler interface {
	Recrawl(p models.Pair) (RecrawlResult, error)
}

// KafkaRecrawlHandler consumes recrawl commands: {"symbol": "...", "interval": "..."}.
type KafkaRecrawlHandler struct {
	topic    string
	target   Recrawler
	metrics  domrepo.Metrics
	log      *logger.Logger
	validate *validator.Validate
}

var _ pkgkafka.MessageHandler = (*KafkaRecrawlHandler)(nil)

func NewKafkaRecrawlHandler(topic string, target Recrawler, metrics domrepo.Metrics, log *logger.Logger) *KafkaRecrawlHandler {
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &KafkaRecrawlHandler{
		topic:    topic,
		target:   target,
		metrics:  metrics,
		log:      log.With(logger.String("component", "recrawl_consumer")),
		validate: validator.New(),
	}
}

func (h *KafkaRecrawlHandler) Topic() string { return h.topic }

func (h *KafkaRecrawlHandler) Handle(ctx context.Context, b []byte) error {
	var cmd models.RecrawlCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		h.metrics.RecordError("recrawl_unmarshal")
		return fmt.Errorf("decode recrawl command: %w", err)
	}
	if err := h.validate.StructCtx(ctx, cmd); err != nil {
		h.metrics.RecordError("recrawl_invalid")
		return fmt.Errorf("invalid recrawl command: %w", err)
	}
	res, err := h.target.Recrawl(cmd.Pair())
	if err != nil {
		h.metrics.RecordError("recrawl")
		return err
	}
	fields := []logger.Field{logger.String("pair", cmd.Pair().String()), logger.String("result", string(res))}
	if id := pkgkafka.TraceID(ctx); id != "" {
		fields = append(fields, logger.String("trace_id", id))
	}
	h.log.Info("recrawl command applied", fields...)
	return nil
}
