package repository

import (
	"context"
	"time"

	"CapTrack/internal/domain/models"
)

// SnapshotStore persists settled capacity snapshots and serves the
// history queries behind the capacity API.
type SnapshotStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, s *models.CapacitySnapshot) error
	StoreBatch(ctx context.Context, snaps []*models.CapacitySnapshot) error
	Query(ctx context.Context, from, to time.Time, limit int) ([]*models.CapacitySnapshot, error)
	Health(ctx context.Context) error // ping
	Close() error
}
