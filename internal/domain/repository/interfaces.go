package repository

import (
	"context"

	"CapTrack/internal/domain/models"
)

// FillStream delivers execution reports from the host brokerage.
type FillStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.FillEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SnapshotPublisher pushes settled capacity snapshots to a message bus.
type SnapshotPublisher interface {
	Publish(ctx context.Context, s *models.CapacitySnapshot) error
	PublishBatch(ctx context.Context, snaps []*models.CapacitySnapshot) error
	Close() error
}

type Metrics interface {
	RecordFillIngested(symbol string)
	RecordSnapshotRouted(backend, bottleneck string)
	RecordCapacity(mean, minimum, last float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
