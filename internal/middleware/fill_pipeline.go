package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CapTrack/internal/domain/models"
	domrepo "CapTrack/internal/domain/repository"
)

// Proc is the minimal fill sink the pipeline needs.
type Proc interface {
	Process(ctx context.Context, f *models.FillEvent) error
}

// FillPipeline sits between the brokerage stream and the capacity
// recorder. It validates fills and hands them to a single delivery
// goroutine in arrival order. Fills are accounting events, not market
// data samples: one lost fill permanently understates sale volume and
// trade count, so the pipeline applies backpressure when the buffer
// fills and retries a failed delivery in place rather than dropping or
// requeueing it behind newer fills.
type FillPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan *models.FillEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*FillPipeline)

// WithBufferSize sets how many fills may wait for delivery before
// Process blocks.
func WithBufferSize(n int) PipelineOption {
	return func(p *FillPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewFillPipeline creates a new pipeline.
func NewFillPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *FillPipeline {
	p := &FillPipeline{
		proc:    proc,
		metrics: metrics,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.FillEvent, p.bufSize)
	return p
}

// Start launches the delivery goroutine.
func (p *FillPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.deliverLoop(ctx)
}

// Stop drains queued fills and blocks until delivery has finished.
func (p *FillPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.doneCh
}

// Process validates f and queues it for in-order delivery. When the
// buffer is full it blocks until the delivery goroutine catches up, so
// an accepted fill is never discarded.
func (p *FillPipeline) Process(ctx context.Context, f *models.FillEvent) error {
	if err := validateFill(f); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !f.Status.IsFill() {
		// Nothing downstream cares about non-executions.
		return nil
	}

	select {
	case p.bufCh <- f:
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
		return nil
	case <-p.stopCh:
		return fmt.Errorf("pipeline stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *FillPipeline) deliverLoop(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		case f := <-p.bufCh:
			p.deliver(ctx, f)
		}
	}
}

// deliver retries in place with capped backoff, so a later fill can
// never overtake an earlier one.
func (p *FillPipeline) deliver(ctx context.Context, f *models.FillEvent) {
	backoff := 50 * time.Millisecond
	for {
		start := time.Now()
		if err := p.proc.Process(ctx, f); err == nil {
			p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
			return
		}
		p.metrics.RecordError("pipeline_process")

		select {
		case <-p.stopCh:
			p.metrics.RecordError("pipeline_shutdown_drop")
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

// drain makes one delivery attempt per fill still queued at shutdown.
func (p *FillPipeline) drain(ctx context.Context) {
	for {
		select {
		case f := <-p.bufCh:
			if err := p.proc.Process(ctx, f); err != nil {
				p.metrics.RecordError("pipeline_shutdown_drop")
			}
		default:
			return
		}
	}
}

func validateFill(f *models.FillEvent) error {
	if f == nil {
		return fmt.Errorf("fill nil")
	}
	if f.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if f.Time.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if f.Price.IsNegative() || f.Quantity.IsZero() {
		return fmt.Errorf("invalid price/quantity")
	}
	return nil
}
