package usecase

import (
	"context"
	"fmt"

	"CapTrack/internal/domain/models"
	drepo "CapTrack/internal/domain/repository"
	"CapTrack/pkg/queue"
)

// SnapshotPersistType is the queue message type for async persistence.
const SnapshotPersistType = "snapshot.persist"

// SnapshotPersistJob writes queued snapshots to the snapshot store.
// Registered on the redis queue when backend=queue, decoupling
// settlement from ClickHouse write latency.
type SnapshotPersistJob struct {
	store   drepo.SnapshotStore
	metrics drepo.Metrics
}

func NewSnapshotPersistJob(store drepo.SnapshotStore, metrics drepo.Metrics) *SnapshotPersistJob {
	return &SnapshotPersistJob{store: store, metrics: metrics}
}

func (j *SnapshotPersistJob) Name() string { return "snapshot-persist" }

func (j *SnapshotPersistJob) Type() string { return SnapshotPersistType }

func (j *SnapshotPersistJob) Handle(ctx context.Context, payload interface{}) error {
	snap, err := queue.ParsePayload[models.CapacitySnapshot](payload)
	if err != nil {
		j.metrics.RecordError("persist_payload")
		return fmt.Errorf("parse snapshot payload: %w", err)
	}
	if err := j.store.Store(ctx, snap); err != nil {
		j.metrics.RecordError("persist_store")
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

var _ queue.Job = (*SnapshotPersistJob)(nil)
