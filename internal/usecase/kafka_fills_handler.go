package usecase

import (
	"context"
	"encoding/json"
	"time"

	"CapTrack/internal/domain/models"
	drepo "CapTrack/internal/domain/repository"
	pkgkafka "CapTrack/pkg/kafka"
)

// KafkaFillsHandler consumes execution reports from a Kafka topic and
// feeds them to the capacity recorder. Used when the host publishes
// order events to a bus instead of a WebSocket stream.
type KafkaFillsHandler struct {
	topic   string
	rec     *CapacityRecorder
	metrics drepo.Metrics
}

func NewKafkaFillsHandler(topic string, rec *CapacityRecorder, metrics drepo.Metrics) *KafkaFillsHandler {
	return &KafkaFillsHandler{topic: topic, rec: rec, metrics: metrics}
}

func (h *KafkaFillsHandler) Topic() string { return h.topic }

func (h *KafkaFillsHandler) Handle(ctx context.Context, b []byte) error {
	var f models.FillEvent
	if err := json.Unmarshal(b, &f); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if f.Symbol == "" {
		h.metrics.RecordError("consumer_empty_symbol")
		return nil // malformed but not retryable
	}
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}

	// E2E latency from event time to now (approx)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(f.Time).Seconds())

	start := time.Now()
	err := h.rec.Process(ctx, &f)
	h.metrics.RecordLatency("consumer_process", time.Since(start).Seconds())
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaFillsHandler)(nil)
