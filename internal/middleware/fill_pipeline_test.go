package middleware

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
)

type sinkProc struct {
	mu    sync.Mutex
	fills []*models.FillEvent
	fail  int // fail this many deliveries before accepting
}

func (s *sinkProc) Process(_ context.Context, f *models.FillEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return fmt.Errorf("sink unavailable")
	}
	s.fills = append(s.fills, f)
	return nil
}

func (s *sinkProc) delivered() []*models.FillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.FillEvent, len(s.fills))
	copy(out, s.fills)
	return out
}

func (s *sinkProc) waitFor(t *testing.T, n int) []*models.FillEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.delivered(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("delivered %d fills, want %d", len(s.delivered()), n)
	return nil
}

type noopMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newNoopMetrics() *noopMetrics { return &noopMetrics{errors: map[string]int{}} }

func (m *noopMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *noopMetrics) RecordFillIngested(string)                {}
func (m *noopMetrics) RecordSnapshotRouted(string, string)      {}
func (m *noopMetrics) RecordCapacity(float64, float64, float64) {}
func (m *noopMetrics) RecordLatency(string, float64)            {}

func (m *noopMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func validFill() *models.FillEvent {
	return &models.FillEvent{
		Symbol:   "AAPL",
		Status:   models.OrderStatusFilled,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(100),
		Time:     time.Now().UTC(),
	}
}

func TestPipelineDeliversBurstWithoutLoss(t *testing.T) {
	sink := &sinkProc{}
	p := NewFillPipeline(sink, newNoopMetrics())
	p.Start(context.Background())
	defer p.Stop()

	// A burst of same-symbol fills in rapid succession. Every one is
	// an accounting event and must reach the engine.
	const n = 20
	for i := 0; i < n; i++ {
		f := validFill()
		f.Price = decimal.NewFromInt(int64(100 + i))
		if err := p.Process(context.Background(), f); err != nil {
			t.Fatalf("fill %d rejected: %v", i, err)
		}
	}

	got := sink.waitFor(t, n)
	if len(got) != n {
		t.Fatalf("delivered %d fills, want %d", len(got), n)
	}
	for i, f := range got {
		want := decimal.NewFromInt(int64(100 + i))
		if !f.Price.Equal(want) {
			t.Fatalf("fill %d out of order: price %s, want %s", i, f.Price, want)
		}
	}
}

func TestPipelineRetriesInOrder(t *testing.T) {
	sink := &sinkProc{fail: 2}
	metrics := newNoopMetrics()
	p := NewFillPipeline(sink, metrics)
	p.Start(context.Background())
	defer p.Stop()

	first := validFill()
	first.Price = decimal.NewFromInt(1)
	second := validFill()
	second.Price = decimal.NewFromInt(2)

	if err := p.Process(context.Background(), first); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := p.Process(context.Background(), second); err != nil {
		t.Fatalf("second: %v", err)
	}

	got := sink.waitFor(t, 2)
	if !got[0].Price.Equal(decimal.NewFromInt(1)) || !got[1].Price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("fills reordered: %s then %s", got[0].Price, got[1].Price)
	}
	if metrics.errorCount("pipeline_process") != 2 {
		t.Fatalf("process errors = %d, want 2", metrics.errorCount("pipeline_process"))
	}
}

func TestPipelineStopDrainsBuffer(t *testing.T) {
	sink := &sinkProc{}
	p := NewFillPipeline(sink, newNoopMetrics())

	// Queue before the delivery goroutine exists, then start and stop:
	// Stop must not return until the queued fills have been handed to
	// the sink.
	if err := p.Process(context.Background(), validFill()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	p.Start(context.Background())
	p.Stop()

	if len(sink.delivered()) != 1 {
		t.Fatalf("delivered %d fills after Stop, want 1", len(sink.delivered()))
	}
}

func TestPipelineRejectsInvalidFills(t *testing.T) {
	sink := &sinkProc{}
	metrics := newNoopMetrics()
	p := NewFillPipeline(sink, metrics)

	bad := []*models.FillEvent{
		nil,
		{Status: models.OrderStatusFilled, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Time: time.Now()},
		{Symbol: "AAPL", Status: models.OrderStatusFilled, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)},
		{Symbol: "AAPL", Status: models.OrderStatusFilled, Price: decimal.NewFromInt(1), Time: time.Now()},
	}
	for i, f := range bad {
		if err := p.Process(context.Background(), f); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if len(p.bufCh) != 0 {
		t.Fatalf("invalid fills were queued")
	}
	if metrics.errorCount("pipeline_validate") != len(bad) {
		t.Fatalf("validate errors = %d, want %d", metrics.errorCount("pipeline_validate"), len(bad))
	}
}

func TestPipelineDropsNonExecutions(t *testing.T) {
	sink := &sinkProc{}
	p := NewFillPipeline(sink, newNoopMetrics())

	f := validFill()
	f.Status = models.OrderStatusCanceled
	if err := p.Process(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.bufCh) != 0 {
		t.Fatalf("non-execution was queued")
	}
}
