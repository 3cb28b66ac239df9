package usecase

import (
	"context"
	"sync"
	"time"

	"CapTrack/internal/capacity"
	"CapTrack/internal/domain/models"
	drepo "CapTrack/internal/domain/repository"
	"CapTrack/internal/services/portfolio"
)

// CapacityRecorder is the single entry point through which fills and
// time steps reach the capacity engine. The engine itself is
// single-caller; the recorder adds the mutex so that the WebSocket
// collector, Kafka consumer workers, and the shutdown flush can all
// feed it safely.
type CapacityRecorder struct {
	mu   sync.Mutex
	est  *capacity.Estimator
	book *portfolio.Book // optional local ledger; nil when the host provides views

	proc    *SnapshotProcessor
	metrics drepo.Metrics
}

// NewCapacityRecorder creates a recorder. book may be nil when
// portfolio state comes from the host system instead of a local
// ledger.
func NewCapacityRecorder(est *capacity.Estimator, book *portfolio.Book, proc *SnapshotProcessor, metrics drepo.Metrics) *CapacityRecorder {
	return &CapacityRecorder{est: est, book: book, proc: proc, metrics: metrics}
}

// Process ingests one fill and runs a time step. A snapshot settled by
// the step is routed to the configured backend.
func (r *CapacityRecorder) Process(ctx context.Context, f *models.FillEvent) error {
	if f == nil {
		return nil
	}

	r.mu.Lock()
	if r.book != nil {
		r.book.ApplyFill(f)
	}
	r.est.RecordFill(f)
	snap := r.est.Advance(false)
	r.mu.Unlock()

	r.metrics.RecordFillIngested(f.Symbol)
	return r.route(ctx, snap)
}

// Tick runs a time step with no new fill. Called on the collector's
// step interval so scheduled settlements fire during quiet markets.
func (r *CapacityRecorder) Tick(ctx context.Context) error {
	r.mu.Lock()
	snap := r.est.Advance(false)
	r.mu.Unlock()
	return r.route(ctx, snap)
}

// Flush forces a final settlement, e.g. at shutdown or run end.
func (r *CapacityRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	snap := r.est.Advance(true)
	r.mu.Unlock()
	return r.route(ctx, snap)
}

func (r *CapacityRecorder) route(ctx context.Context, snap *models.CapacitySnapshot) error {
	if snap == nil {
		return nil
	}
	r.metrics.RecordCapacity(
		snap.MeanCapacity.InexactFloat64(),
		snap.MinimumCapacity.InexactFloat64(),
		snap.Capacity.InexactFloat64(),
	)
	if r.proc == nil {
		return nil
	}
	return r.proc.Process(ctx, snap)
}

// Processor exposes the snapshot processor for lifecycle management.
func (r *CapacityRecorder) Processor() *SnapshotProcessor { return r.proc }

// Report assembles the current capacity read model.
func (r *CapacityRecorder) Report() *models.CapacityReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := &models.CapacityReport{
		Timestamp:          time.Now().UTC(),
		Capacity:           r.est.Capacity(),
		MinimumCapacity:    r.est.MinimumCapacity(),
		Settlements:        r.est.Settlements(),
		TrackedInstruments: r.est.TrackedCount(),
		Bottlenecks:        r.est.BottleneckStats(),
	}
	if sym, ok := r.est.LowestCapacityInstrument(); ok {
		rep.LowestCapacity = sym
	}
	if sym, ok := r.est.LowestCapacityInstrumentByFrequency(); ok {
		rep.MostFrequent = sym
	}
	return rep
}
