package usecase

import (
	"context"
	"time"

	"CapTrack/internal/domain/models"
	drepo "CapTrack/internal/domain/repository"
	mid "CapTrack/internal/middleware"
)

// Refresher pulls external state between time steps, e.g. the remote
// portfolio document in http mode.
type Refresher interface {
	Refresh(ctx context.Context, attempts int) error
}

// FillCollector consumes execution reports from the brokerage stream
// and feeds them to the capacity recorder, interleaved with periodic
// time steps so scheduled settlements fire without new fills.
type FillCollector struct {
	stream    drepo.FillStream
	rec       *CapacityRecorder
	metrics   drepo.Metrics
	pipe      *mid.FillPipeline
	stepSize  time.Duration
	refresher Refresher
}

// NewFillCollector creates a new FillCollector instance.
func NewFillCollector(stream drepo.FillStream, rec *CapacityRecorder, metrics drepo.Metrics, pipe *mid.FillPipeline, stepSize time.Duration) *FillCollector {
	if stepSize <= 0 {
		stepSize = time.Second
	}
	return &FillCollector{stream: stream, rec: rec, metrics: metrics, pipe: pipe, stepSize: stepSize}
}

// SetRefresher installs an external state refresher run before each
// time step.
func (c *FillCollector) SetRefresher(r Refresher) { c.refresher = r }

// IsConnected returns true if the brokerage stream is connected.
func (c *FillCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *FillCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	fillCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, fillCh, errCh)
	return nil
}

func (c *FillCollector) consume(ctx context.Context, fillCh <-chan *models.FillEvent, errCh <-chan error) {
	step := time.NewTicker(c.stepSize)
	defer step.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case <-step.C:
			if c.refresher != nil {
				if err := c.refresher.Refresh(ctx, 2); err != nil {
					c.metrics.RecordError("portfolio_refresh")
				}
			}
			if err := c.rec.Tick(ctx); err != nil {
				c.metrics.RecordError("advance")
			}
		case f := <-fillCh:
			if f == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, f)
			} else {
				_ = c.rec.Process(ctx, f)
			}
		}
	}
}

func (c *FillCollector) Stop() error { return c.stream.Close() }

// Recorder returns the underlying recorder for lifecycle management.
func (c *FillCollector) Recorder() *CapacityRecorder { return c.rec }

// Shutdown stops the pipeline so buffered fills drain into the
// recorder, flushes a final settlement, and closes the stream.
func (c *FillCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	if err := c.rec.Flush(ctx); err != nil {
		c.metrics.RecordError("flush")
	}
	return c.stream.Close()
}
