package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/capacity"
	"CapTrack/internal/domain/models"
	"CapTrack/internal/services/portfolio"
)

type frozenClock struct{ at time.Time }

func (c frozenClock) Now() time.Time { return c.at }

func buyFill(symbol string, qty, price int64, at time.Time) *models.FillEvent {
	return &models.FillEvent{
		Symbol:    symbol,
		Status:    models.OrderStatusFilled,
		Direction: models.DirectionBuy,
		Quantity:  decimal.NewFromInt(qty),
		Price:     decimal.NewFromInt(price),
		Time:      at,
	}
}

func newTestRecorder(t *testing.T, proc *SnapshotProcessor) *CapacityRecorder {
	t.Helper()
	book := portfolio.NewBook(decimal.NewFromInt(100000))
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	est := capacity.NewEstimator(book, book, start, start.AddDate(0, 3, 0),
		capacity.WithClock(frozenClock{at: start.Add(12 * time.Hour)}),
	)
	return NewCapacityRecorder(est, book, proc, newNoopMetrics())
}

func TestRecorderAppliesFillsToLedger(t *testing.T) {
	rec := newTestRecorder(t, nil)
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := rec.Process(context.Background(), buyFill("AAPL", 10, 100, at)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	rep := rec.Report()
	if rep.TrackedInstruments != 1 {
		t.Fatalf("tracked = %d, want 1", rep.TrackedInstruments)
	}
	if rep.Settlements != 0 {
		t.Fatalf("settlements = %d, want 0", rep.Settlements)
	}
}

func TestRecorderFlushRoutesForcedSettlement(t *testing.T) {
	store := &fakeSnapStore{}
	proc := NewSnapshotProcessor(nil, store, nil, newNoopMetrics(), "clickhouse")
	rec := newTestRecorder(t, proc)
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := rec.Process(context.Background(), buyFill("AAPL", 10, 100, at)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(store.stored) != 1 {
		t.Fatalf("stored = %d, want 1", len(store.stored))
	}
	snap := store.stored[0]
	if snap.Bottleneck != "AAPL" {
		t.Fatalf("bottleneck = %q, want AAPL", snap.Bottleneck)
	}
	// $1000 notional at 5% participation implies $20,000 of market
	// volume over one trade; sale share 1 makes that the capacity.
	if !snap.Capacity.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("capacity = %s, want 20000", snap.Capacity)
	}
}

func TestRecorderTickWithoutDataSettlesNothing(t *testing.T) {
	store := &fakeSnapStore{}
	proc := NewSnapshotProcessor(nil, store, nil, newNoopMetrics(), "clickhouse")
	rec := newTestRecorder(t, proc)

	if err := rec.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(store.stored) != 0 {
		t.Fatalf("stored = %d, want 0", len(store.stored))
	}
}

func TestRecorderIgnoresNilFill(t *testing.T) {
	rec := newTestRecorder(t, nil)
	if err := rec.Process(context.Background(), nil); err != nil {
		t.Fatalf("Process(nil): %v", err)
	}
	if rep := rec.Report(); rep.TrackedInstruments != 0 {
		t.Fatalf("tracked = %d, want 0", rep.TrackedInstruments)
	}
}
