package usecase

import (
	"context"
	"fmt"
	"time"

	"CapTrack/internal/domain/models"
	drepo "CapTrack/internal/domain/repository"
	"CapTrack/pkg/queue"
)

// SnapshotProcessor routes settled capacity snapshots to the
// configured backend.
type SnapshotProcessor struct {
	pub     drepo.SnapshotPublisher
	store   drepo.SnapshotStore
	jobs    queue.QueueService
	metrics drepo.Metrics
	backend string
}

// NewSnapshotProcessor creates a new SnapshotProcessor instance.
func NewSnapshotProcessor(
	pub drepo.SnapshotPublisher,
	store drepo.SnapshotStore,
	jobs queue.QueueService,
	metrics drepo.Metrics,
	backend string,
) *SnapshotProcessor {
	return &SnapshotProcessor{
		pub:     pub,
		store:   store,
		jobs:    jobs,
		metrics: metrics,
		backend: backend,
	}
}

// Process routes a single snapshot to the configured backend.
func (p *SnapshotProcessor) Process(ctx context.Context, s *models.CapacitySnapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.Publish(ctx, s)
	case "clickhouse":
		err = p.store.Store(ctx, s)
	case "queue":
		err = p.jobs.PublishMessage(ctx, SnapshotPersistType, s)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process snapshot: %w", err)
	}

	p.metrics.RecordSnapshotRouted(p.backend, s.Bottleneck)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())

	return nil
}

// ProcessBatch routes multiple snapshots in a batch.
func (p *SnapshotProcessor) ProcessBatch(ctx context.Context, snaps []*models.CapacitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.PublishBatch(ctx, snaps)
	case "clickhouse":
		err = p.store.StoreBatch(ctx, snaps)
	case "queue":
		for _, s := range snaps {
			if err = p.jobs.PublishMessage(ctx, SnapshotPersistType, s); err != nil {
				break
			}
		}
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, s := range snaps {
		p.metrics.RecordSnapshotRouted(p.backend, s.Bottleneck)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())

	return nil
}

// Close closes underlying resources if available.
func (p *SnapshotProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
