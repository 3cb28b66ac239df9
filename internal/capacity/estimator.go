package capacity

import (
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
	domsvc "CapTrack/internal/domain/service"
	"CapTrack/pkg/util"
)

// Smoothing weights for the bottleneck diagnostic. Deliberately
// slow-moving so a single noisy snapshot cannot dominate the
// "worst offender" view.
var (
	smoothNew  = decimal.New(33, -2) // 0.33
	smoothPrev = decimal.New(66, -2) // 0.66
)

const (
	minSnapshotPeriod = 24 * time.Hour
	maxSnapshotPeriod = 7 * 24 * time.Hour
)

// symbolState is the per-instrument bookkeeping owned exclusively by
// the estimator: the liquidity tracker plus the last fill time used by
// the settlement liveness check. Created lazily on first fill.
type symbolState struct {
	symbol   string
	tracker  domsvc.LiquidityTracker
	lastFill time.Time
}

// Estimator measures how much market liquidity the strategy's fills
// consume and converts that, once per snapshot period, into a
// portfolio-level capacity figure. It is single-caller: RecordFill and
// Advance must be invoked from one sequential loop.
type Estimator struct {
	portfolio  domsvc.PortfolioView
	securities domsvc.SecurityView
	clock      domsvc.Clock
	newTracker func(symbol string) domsvc.LiquidityTracker

	trackers map[string]*symbolState

	// Instruments still accumulating toward their own window-close
	// signal. Ordered slice for removal-safe iteration, set for O(1)
	// membership checks; the two views always agree.
	monitored    []*symbolState
	monitoredSet map[string]struct{}

	history     []decimal.Decimal
	capacity    decimal.Decimal
	minCapacity decimal.Decimal

	bottlenecks map[string]*models.BottleneckStat

	snapshotPeriod time.Duration
	nextSnapshot   time.Time
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithClock replaces the UTC wall clock, e.g. with simulated time.
func WithClock(c domsvc.Clock) Option {
	return func(e *Estimator) { e.clock = c }
}

// WithTrackerFactory replaces the per-instrument liquidity model.
func WithTrackerFactory(f func(symbol string) domsvc.LiquidityTracker) Option {
	return func(e *Estimator) { e.newTracker = f }
}

// NewEstimator creates an estimator for a run spanning [start, end).
// The snapshot period is 1/30th of the run horizon clamped to
// [1 day, 7 days]; the first settlement is due at start + period.
func NewEstimator(portfolio domsvc.PortfolioView, securities domsvc.SecurityView, start, end time.Time, opts ...Option) *Estimator {
	period := util.ClampDuration(end.Sub(start)/30, minSnapshotPeriod, maxSnapshotPeriod)

	e := &Estimator{
		portfolio:      portfolio,
		securities:     securities,
		clock:          utcClock{},
		trackers:       make(map[string]*symbolState),
		monitoredSet:   make(map[string]struct{}),
		bottlenecks:    make(map[string]*models.BottleneckStat),
		snapshotPeriod: period,
		nextSnapshot:   start.Add(period),
	}
	e.newTracker = func(string) domsvc.LiquidityTracker {
		return NewSymbolLiquidity()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordFill ingests one execution report. Non-fill statuses are
// ignored. The instrument's state is created lazily and re-enters the
// monitored set if it had left it.
func (e *Estimator) RecordFill(f *models.FillEvent) {
	if f == nil || !f.Status.IsFill() {
		return
	}

	st, ok := e.trackers[f.Symbol]
	if !ok {
		st = &symbolState{symbol: f.Symbol, tracker: e.newTracker(f.Symbol)}
		e.trackers[f.Symbol] = st
	}
	st.tracker.OnFillEvent(f)
	st.lastFill = f.Time

	if _, monitored := e.monitoredSet[f.Symbol]; !monitored {
		e.monitored = append(e.monitored, st)
		e.monitoredSet[f.Symbol] = struct{}{}
	}
}

// Advance performs the per-step maintenance and, when the snapshot
// clock has elapsed (or forceSettle is set), settles the current
// measurement window. It returns the settled snapshot, or nil when no
// settlement was produced. Safe to call every simulated time step.
func (e *Estimator) Advance(forceSettle bool) *models.CapacitySnapshot {
	// Drop naturally-completed windows from per-step monitoring. Their
	// accumulated numbers stay available until settlement resets them.
	for i := len(e.monitored) - 1; i >= 0; i-- {
		st := e.monitored[i]
		if st.tracker.TryCloseWindow() {
			e.monitored = append(e.monitored[:i], e.monitored[i+1:]...)
			delete(e.monitoredSet, st.symbol)
		}
	}

	now := e.clock.Now()
	if !forceSettle && (now.Before(e.nextSnapshot) || len(e.trackers) == 0) {
		return nil
	}

	// Delisted instruments are dropped wholesale; their terminal
	// numbers never contribute to a settlement.
	for sym := range e.trackers {
		if e.securities.IsDelisted(sym) {
			delete(e.trackers, sym)
			e.removeMonitored(sym)
		}
	}

	totalValue := e.portfolio.TotalPortfolioValue()
	if totalValue.IsZero() || len(e.trackers) == 0 {
		// No meaningful data yet; defer the settlement entirely. The
		// clock does not advance so the next Advance retries.
		return nil
	}

	bottleneck := e.selectBottleneck(now)
	if bottleneck == nil {
		return nil
	}

	totalSale := decimal.Zero
	for _, st := range e.trackers {
		totalSale = totalSale.Add(st.tracker.SaleVolume())
	}
	saleShare := decimal.Zero
	if !totalSale.IsZero() {
		saleShare = bottleneck.tracker.SaleVolume().Div(totalSale)
	}
	buyingPowerShare := e.securities.ReservedBuyingPower(bottleneck.symbol).
		Mul(e.securities.Leverage(bottleneck.symbol)).
		Div(totalValue)

	// Capacity is bounded by whichever constraint is tighter right
	// now: realized turnover share or position-size share.
	scaling := decimal.Max(saleShare, buyingPowerShare)

	daily := decimal.Zero
	if trades := bottleneck.tracker.TradeCount(); trades > 0 {
		daily = bottleneck.tracker.MarketDollarVolume().Div(decimal.NewFromInt(int64(trades)))
	}

	// A zero scaling factor carries the current mean forward: the
	// window produced no usable constraint, so the observation is
	// neutral and the exposed Capacity stays unchanged.
	newCapacity := e.capacity
	if !scaling.IsZero() {
		newCapacity = daily.Div(scaling)
	}

	stat, ok := e.bottlenecks[bottleneck.symbol]
	if !ok {
		stat = &models.BottleneckStat{}
		e.bottlenecks[bottleneck.symbol] = stat
	}
	stat.Occurrences++
	stat.Smoothed = smoothNew.Mul(newCapacity).Add(smoothPrev.Mul(stat.Smoothed))

	e.history = append(e.history, newCapacity)
	e.recomputeStats()

	// Close the window for everyone, bottleneck or not.
	for _, st := range e.trackers {
		st.tracker.Reset()
	}
	e.nextSnapshot = now.Add(e.snapshotPeriod)

	return &models.CapacitySnapshot{
		Time:             now,
		Capacity:         newCapacity,
		MeanCapacity:     e.capacity,
		MinimumCapacity:  e.minCapacity,
		Bottleneck:       bottleneck.symbol,
		ScalingFactor:    scaling,
		SaleVolumeShare:  saleShare,
		BuyingPowerShare: buyingPowerShare,
		DailyCapacity:    daily,
		TrackedCount:     len(e.trackers),
	}
}

// selectBottleneck returns the qualifying instrument with the smallest
// market dollar volume estimate. Qualifying means currently invested
// or filled within the last snapshot period. Ties fall to map
// iteration order, which is fine for an informational pick.
func (e *Estimator) selectBottleneck(now time.Time) *symbolState {
	var smallest *symbolState
	for _, st := range e.trackers {
		if !e.securities.IsInvested(st.symbol) && now.Sub(st.lastFill) > e.snapshotPeriod {
			continue
		}
		if smallest == nil || st.tracker.MarketDollarVolume().LessThan(smallest.tracker.MarketDollarVolume()) {
			smallest = st
		}
	}
	return smallest
}

func (e *Estimator) removeMonitored(symbol string) {
	if _, ok := e.monitoredSet[symbol]; !ok {
		return
	}
	delete(e.monitoredSet, symbol)
	for i := len(e.monitored) - 1; i >= 0; i-- {
		if e.monitored[i].symbol == symbol {
			e.monitored = append(e.monitored[:i], e.monitored[i+1:]...)
			return
		}
	}
}

func (e *Estimator) recomputeStats() {
	if len(e.history) == 0 {
		return
	}
	sum := decimal.Zero
	min := e.history[0]
	for _, c := range e.history {
		sum = sum.Add(c)
		if c.LessThan(min) {
			min = c
		}
	}
	e.capacity = sum.Div(decimal.NewFromInt(int64(len(e.history))))
	e.minCapacity = min
}

// Capacity is the arithmetic mean of all settled observations.
func (e *Estimator) Capacity() decimal.Decimal { return e.capacity }

// MinimumCapacity is the smallest settled observation.
func (e *Estimator) MinimumCapacity() decimal.Decimal { return e.minCapacity }

// History returns a copy of the settled capacity series.
func (e *Estimator) History() []decimal.Decimal {
	out := make([]decimal.Decimal, len(e.history))
	copy(out, e.history)
	return out
}

// LowestCapacityInstrument is the instrument with the smallest
// smoothed bottleneck value across all time. ok is false before any
// settlement has produced a bottleneck.
func (e *Estimator) LowestCapacityInstrument() (symbol string, ok bool) {
	var lowest decimal.Decimal
	for sym, stat := range e.bottlenecks {
		if !ok || stat.Smoothed.LessThan(lowest) {
			symbol, lowest, ok = sym, stat.Smoothed, true
		}
	}
	return symbol, ok
}

// LowestCapacityInstrumentByFrequency is the instrument most often
// chosen as the bottleneck.
func (e *Estimator) LowestCapacityInstrumentByFrequency() (symbol string, ok bool) {
	most := 0
	for sym, stat := range e.bottlenecks {
		if stat.Occurrences > most {
			symbol, most, ok = sym, stat.Occurrences, true
		}
	}
	return symbol, ok
}

// BottleneckStats returns a copy of the per-instrument bottleneck
// table, for reporting.
func (e *Estimator) BottleneckStats() []models.BottleneckEntry {
	out := make([]models.BottleneckEntry, 0, len(e.bottlenecks))
	for sym, stat := range e.bottlenecks {
		out = append(out, models.BottleneckEntry{
			Symbol:      sym,
			Occurrences: stat.Occurrences,
			Smoothed:    stat.Smoothed,
		})
	}
	return out
}

// TrackedCount is the number of instruments with at least one
// processed fill that have not been delisted.
func (e *Estimator) TrackedCount() int { return len(e.trackers) }

// MonitoredCount is the number of instruments still awaiting their
// window-close signal.
func (e *Estimator) MonitoredCount() int { return len(e.monitored) }

// Settlements is the number of settled observations so far.
func (e *Estimator) Settlements() int { return len(e.history) }

// SnapshotPeriod is the measurement window duration.
func (e *Estimator) SnapshotPeriod() time.Duration { return e.snapshotPeriod }

// NextSnapshot is the next scheduled settlement time.
func (e *Estimator) NextSnapshot() time.Time { return e.nextSnapshot }

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
