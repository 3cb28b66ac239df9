package capacity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
	domsvc "CapTrack/internal/domain/service"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakePortfolio struct{ total decimal.Decimal }

func (p *fakePortfolio) TotalPortfolioValue() decimal.Decimal { return p.total }

type fakeSecurities struct {
	delisted map[string]bool
	invested map[string]bool
	leverage map[string]decimal.Decimal
	reserved map[string]decimal.Decimal
}

func newFakeSecurities() *fakeSecurities {
	return &fakeSecurities{
		delisted: map[string]bool{},
		invested: map[string]bool{},
		leverage: map[string]decimal.Decimal{},
		reserved: map[string]decimal.Decimal{},
	}
}

func (s *fakeSecurities) IsDelisted(sym string) bool { return s.delisted[sym] }
func (s *fakeSecurities) IsInvested(sym string) bool { return s.invested[sym] }

func (s *fakeSecurities) Leverage(sym string) decimal.Decimal {
	if l, ok := s.leverage[sym]; ok {
		return l
	}
	return decimal.NewFromInt(1)
}

func (s *fakeSecurities) ReservedBuyingPower(sym string) decimal.Decimal {
	return s.reserved[sym]
}

// stubTracker lets tests pin exact window numbers.
type stubTracker struct {
	mdv        decimal.Decimal
	sale       decimal.Decimal
	trades     int
	last       time.Time
	windowDone bool
	resets     int
}

func (t *stubTracker) OnFillEvent(f *models.FillEvent)     { t.last = f.Time }
func (t *stubTracker) TryCloseWindow() bool                { return t.windowDone }
func (t *stubTracker) MarketDollarVolume() decimal.Decimal { return t.mdv }
func (t *stubTracker) TradeCount() int                     { return t.trades }
func (t *stubTracker) SaleVolume() decimal.Decimal         { return t.sale }
func (t *stubTracker) LastFillTime() time.Time             { return t.last }

func (t *stubTracker) Reset() {
	t.mdv = decimal.Zero
	t.sale = decimal.Zero
	t.trades = 0
	t.last = time.Time{}
	t.resets++
}

var _ domsvc.LiquidityTracker = (*stubTracker)(nil)

var runStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestEstimator(t *testing.T, trackers map[string]*stubTracker) (*Estimator, *fakeClock, *fakePortfolio, *fakeSecurities) {
	t.Helper()
	clock := &fakeClock{now: runStart}
	portfolio := &fakePortfolio{total: decimal.NewFromInt(100000)}
	securities := newFakeSecurities()
	est := NewEstimator(portfolio, securities, runStart, runStart.AddDate(0, 3, 0),
		WithClock(clock),
		WithTrackerFactory(func(sym string) domsvc.LiquidityTracker {
			if tr, ok := trackers[sym]; ok {
				return tr
			}
			return &stubTracker{}
		}),
	)
	return est, clock, portfolio, securities
}

func fill(symbol string, at time.Time) *models.FillEvent {
	return &models.FillEvent{
		Symbol:    symbol,
		Status:    models.OrderStatusFilled,
		Direction: models.DirectionBuy,
		Quantity:  decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(100),
		Time:      at,
	}
}

func TestNonFillStatusesAreIgnored(t *testing.T) {
	est, _, _, _ := newTestEstimator(t, nil)

	for _, status := range []models.OrderStatus{
		models.OrderStatusNew,
		models.OrderStatusSubmitted,
		models.OrderStatusCanceled,
		models.OrderStatusInvalid,
	} {
		f := fill("AAPL", runStart)
		f.Status = status
		est.RecordFill(f)
	}

	if est.TrackedCount() != 0 {
		t.Fatalf("expected no tracked instruments, got %d", est.TrackedCount())
	}
	if snap := est.Advance(true); snap != nil {
		t.Fatalf("expected no settlement, got %+v", snap)
	}
	if !est.Capacity().IsZero() {
		t.Fatalf("capacity changed without settlements: %s", est.Capacity())
	}
}

func TestForcedSettlementScalesBottleneckCapacity(t *testing.T) {
	tr := &stubTracker{}
	est, clock, _, securities := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})

	for i := 0; i < 3; i++ {
		est.RecordFill(fill("AAPL", clock.now))
	}
	// Window numbers per the reference scenario: three fills, 10 units
	// of sale volume each, 1000 total market dollar volume, one trade
	// counted per fill.
	tr.mdv = decimal.NewFromInt(1000)
	tr.sale = decimal.NewFromInt(30)
	tr.trades = 3

	securities.reserved["AAPL"] = decimal.NewFromInt(2000)
	securities.leverage["AAPL"] = decimal.NewFromInt(2)

	snap := est.Advance(true)
	if snap == nil {
		t.Fatalf("expected settlement")
	}

	// Sole instrument: sale volume share 1.0, buying power share
	// 2000*2/100000 = 0.04; scaling is the max.
	if !snap.ScalingFactor.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("scaling factor = %s, want 1", snap.ScalingFactor)
	}
	wantDaily := decimal.NewFromInt(1000).Div(decimal.NewFromInt(3))
	if !snap.DailyCapacity.Equal(wantDaily) {
		t.Fatalf("daily capacity = %s, want %s", snap.DailyCapacity, wantDaily)
	}
	if !snap.Capacity.Equal(wantDaily) {
		t.Fatalf("capacity = %s, want %s", snap.Capacity, wantDaily)
	}
	if snap.Bottleneck != "AAPL" {
		t.Fatalf("bottleneck = %q, want AAPL", snap.Bottleneck)
	}
}

func TestCapacityIsMeanAndMinimumOfHistory(t *testing.T) {
	tr := &stubTracker{}
	est, clock, _, _ := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})

	// First window settles at 100.
	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv = decimal.NewFromInt(100)
	tr.sale = decimal.NewFromInt(10)
	tr.trades = 1
	if snap := est.Advance(true); snap == nil || !snap.Capacity.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("first settlement = %+v, want capacity 100", snap)
	}

	// Second window settles at 300.
	clock.now = clock.now.Add(est.SnapshotPeriod())
	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv = decimal.NewFromInt(300)
	tr.sale = decimal.NewFromInt(10)
	tr.trades = 1
	if snap := est.Advance(true); snap == nil || !snap.Capacity.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("second settlement, want capacity 300")
	}

	if !est.Capacity().Equal(decimal.NewFromInt(200)) {
		t.Fatalf("mean capacity = %s, want 200", est.Capacity())
	}
	if !est.MinimumCapacity().Equal(decimal.NewFromInt(100)) {
		t.Fatalf("minimum capacity = %s, want 100", est.MinimumCapacity())
	}
	if got := len(est.History()); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}
}

func TestZeroPortfolioValueDefersSettlement(t *testing.T) {
	tr := &stubTracker{}
	est, clock, portfolio, _ := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})
	portfolio.total = decimal.Zero

	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv = decimal.NewFromInt(100)
	tr.trades = 1

	next := est.NextSnapshot()
	if snap := est.Advance(true); snap != nil {
		t.Fatalf("expected deferred settlement, got %+v", snap)
	}
	if !est.NextSnapshot().Equal(next) {
		t.Fatalf("snapshot clock advanced on deferred settlement")
	}
	if est.Settlements() != 0 {
		t.Fatalf("history grew on deferred settlement")
	}
}

func TestZeroScalingFactorCarriesMeanForward(t *testing.T) {
	tr := &stubTracker{}
	est, clock, _, securities := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})

	// No sale volume and no reserved buying power: scaling factor 0.
	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv = decimal.NewFromInt(100)
	tr.trades = 1

	snap := est.Advance(true)
	if snap == nil {
		t.Fatalf("expected settlement")
	}
	if !snap.Capacity.IsZero() {
		t.Fatalf("empty history should carry 0 forward, got %s", snap.Capacity)
	}

	// A real observation, then another zero-scaling window: the
	// appended value equals the mean and the mean stays put.
	clock.now = clock.now.Add(est.SnapshotPeriod())
	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv = decimal.NewFromInt(100)
	tr.sale = decimal.NewFromInt(10)
	tr.trades = 1
	securities.reserved["AAPL"] = decimal.NewFromInt(1000)
	if snap = est.Advance(true); snap == nil {
		t.Fatalf("expected settlement")
	}
	mean := est.Capacity()

	clock.now = clock.now.Add(est.SnapshotPeriod())
	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv = decimal.NewFromInt(100)
	tr.trades = 1
	securities.reserved["AAPL"] = decimal.Zero
	snap = est.Advance(true)
	if snap == nil {
		t.Fatalf("expected settlement")
	}
	if !snap.Capacity.Equal(mean) {
		t.Fatalf("carried capacity = %s, want previous mean %s", snap.Capacity, mean)
	}
	if !est.Capacity().Equal(mean) {
		t.Fatalf("mean moved on zero scaling: %s, want %s", est.Capacity(), mean)
	}
}

func TestDelistedInstrumentIsDropped(t *testing.T) {
	tr := &stubTracker{}
	est, clock, _, securities := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})

	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv = decimal.NewFromInt(100)
	tr.sale = decimal.NewFromInt(10)
	tr.trades = 1
	securities.delisted["AAPL"] = true

	if snap := est.Advance(true); snap != nil {
		t.Fatalf("delisted instrument settled: %+v", snap)
	}
	if est.TrackedCount() != 0 {
		t.Fatalf("delisted instrument still tracked")
	}
	if est.MonitoredCount() != 0 {
		t.Fatalf("delisted instrument still monitored")
	}
	// Later advances never see it again.
	clock.now = clock.now.Add(est.SnapshotPeriod())
	if snap := est.Advance(true); snap != nil {
		t.Fatalf("settlement produced from removed instrument")
	}
}

func TestAllTrackersResetAfterSettlement(t *testing.T) {
	a := &stubTracker{}
	b := &stubTracker{}
	est, clock, _, securities := newTestEstimator(t, map[string]*stubTracker{"AAPL": a, "MSFT": b})

	est.RecordFill(fill("AAPL", clock.now))
	est.RecordFill(fill("MSFT", clock.now))
	a.mdv, a.sale, a.trades = decimal.NewFromInt(100), decimal.NewFromInt(10), 1
	b.mdv, b.sale, b.trades = decimal.NewFromInt(500), decimal.NewFromInt(50), 2
	securities.invested["AAPL"] = true

	if snap := est.Advance(true); snap == nil {
		t.Fatalf("expected settlement")
	}
	for name, tr := range map[string]*stubTracker{"AAPL": a, "MSFT": b} {
		if tr.resets != 1 {
			t.Fatalf("%s tracker resets = %d, want 1", name, tr.resets)
		}
		if !tr.mdv.IsZero() || !tr.sale.IsZero() || tr.trades != 0 {
			t.Fatalf("%s tracker not zeroed after settlement", name)
		}
	}
}

func TestBottleneckSelectionSkipsStaleInstruments(t *testing.T) {
	small := &stubTracker{}
	stale := &stubTracker{}
	est, clock, _, _ := newTestEstimator(t, map[string]*stubTracker{"LIVE": small, "STALE": stale})

	// STALE filled long ago and holds no position; LIVE filled now.
	est.RecordFill(fill("STALE", clock.now.Add(-30*24*time.Hour)))
	est.RecordFill(fill("LIVE", clock.now))
	stale.mdv, stale.sale, stale.trades = decimal.NewFromInt(1), decimal.NewFromInt(1), 1
	small.mdv, small.sale, small.trades = decimal.NewFromInt(50), decimal.NewFromInt(5), 1

	snap := est.Advance(true)
	if snap == nil {
		t.Fatalf("expected settlement")
	}
	if snap.Bottleneck != "LIVE" {
		t.Fatalf("bottleneck = %q, want LIVE (stale instrument must not qualify)", snap.Bottleneck)
	}
}

func TestNoQualifyingBottleneckAbortsSettlement(t *testing.T) {
	stale := &stubTracker{}
	est, clock, _, _ := newTestEstimator(t, map[string]*stubTracker{"STALE": stale})

	est.RecordFill(fill("STALE", clock.now.Add(-30*24*time.Hour)))
	stale.mdv, stale.trades = decimal.NewFromInt(10), 1

	next := est.NextSnapshot()
	if snap := est.Advance(true); snap != nil {
		t.Fatalf("expected aborted settlement, got %+v", snap)
	}
	if !est.NextSnapshot().Equal(next) {
		t.Fatalf("snapshot clock advanced without settlement")
	}
}

func TestSmoothedBottleneckValueDecays(t *testing.T) {
	tr := &stubTracker{}
	est, clock, _, _ := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})

	want := decimal.Zero
	for i := 0; i < 3; i++ {
		est.RecordFill(fill("AAPL", clock.now))
		tr.mdv = decimal.NewFromInt(100)
		tr.sale = decimal.NewFromInt(10)
		tr.trades = 1
		if snap := est.Advance(true); snap == nil || !snap.Capacity.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("settlement %d: want raw capacity 100", i+1)
		}
		want = smoothNew.Mul(decimal.NewFromInt(100)).Add(smoothPrev.Mul(want))
		clock.now = clock.now.Add(est.SnapshotPeriod())
	}

	stats := est.BottleneckStats()
	if len(stats) != 1 {
		t.Fatalf("bottleneck stats = %d entries, want 1", len(stats))
	}
	if stats[0].Occurrences != 3 {
		t.Fatalf("occurrences = %d, want 3", stats[0].Occurrences)
	}
	if !stats[0].Smoothed.Equal(want) {
		t.Fatalf("smoothed = %s, want %s", stats[0].Smoothed, want)
	}
	// Slow-moving: not at 100 even after three identical observations.
	if stats[0].Smoothed.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		t.Fatalf("smoothed value jumped to the raw observation: %s", stats[0].Smoothed)
	}
}

func TestDiagnosticsBeforeAndAfterSettlements(t *testing.T) {
	small := &stubTracker{}
	big := &stubTracker{}
	est, clock, _, _ := newTestEstimator(t, map[string]*stubTracker{"SMALL": small, "BIG": big})

	if _, ok := est.LowestCapacityInstrument(); ok {
		t.Fatalf("lowest capacity instrument reported before any settlement")
	}
	if _, ok := est.LowestCapacityInstrumentByFrequency(); ok {
		t.Fatalf("frequency diagnostic reported before any settlement")
	}

	for i := 0; i < 2; i++ {
		est.RecordFill(fill("SMALL", clock.now))
		est.RecordFill(fill("BIG", clock.now))
		small.mdv, small.sale, small.trades = decimal.NewFromInt(100), decimal.NewFromInt(10), 1
		big.mdv, big.sale, big.trades = decimal.NewFromInt(900), decimal.NewFromInt(90), 1
		if snap := est.Advance(true); snap == nil || snap.Bottleneck != "SMALL" {
			t.Fatalf("settlement %d: want bottleneck SMALL", i+1)
		}
		clock.now = clock.now.Add(est.SnapshotPeriod())
	}

	if sym, ok := est.LowestCapacityInstrument(); !ok || sym != "SMALL" {
		t.Fatalf("lowest capacity instrument = %q, want SMALL", sym)
	}
	if sym, ok := est.LowestCapacityInstrumentByFrequency(); !ok || sym != "SMALL" {
		t.Fatalf("most frequent bottleneck = %q, want SMALL", sym)
	}
}

func TestWindowCloseLeavesMonitoring(t *testing.T) {
	tr := &stubTracker{}
	est, clock, _, _ := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})

	est.RecordFill(fill("AAPL", clock.now))
	if est.MonitoredCount() != 1 {
		t.Fatalf("monitored = %d, want 1", est.MonitoredCount())
	}

	tr.windowDone = true
	est.Advance(false)
	if est.MonitoredCount() != 0 {
		t.Fatalf("window-complete instrument still monitored")
	}
	if est.TrackedCount() != 1 {
		t.Fatalf("instrument dropped from tracking on window close")
	}

	// A new fill re-enters monitoring.
	tr.windowDone = false
	est.RecordFill(fill("AAPL", clock.now))
	if est.MonitoredCount() != 1 {
		t.Fatalf("instrument not re-monitored after new fill")
	}
}

func TestScheduledSettlementTiming(t *testing.T) {
	tr := &stubTracker{}
	est, clock, _, _ := newTestEstimator(t, map[string]*stubTracker{"AAPL": tr})

	est.RecordFill(fill("AAPL", clock.now))
	tr.mdv, tr.sale, tr.trades = decimal.NewFromInt(100), decimal.NewFromInt(10), 1

	if snap := est.Advance(false); snap != nil {
		t.Fatalf("settled before the snapshot clock elapsed")
	}

	clock.now = est.NextSnapshot()
	snap := est.Advance(false)
	if snap == nil {
		t.Fatalf("no settlement at the snapshot boundary")
	}
	if want := clock.now.Add(est.SnapshotPeriod()); !est.NextSnapshot().Equal(want) {
		t.Fatalf("next snapshot = %v, want %v", est.NextSnapshot(), want)
	}
}

func TestSnapshotPeriodClamping(t *testing.T) {
	portfolio := &fakePortfolio{total: decimal.NewFromInt(1)}
	securities := newFakeSecurities()

	cases := []struct {
		days int
		want time.Duration
	}{
		{10, 24 * time.Hour},       // 8h raw, clamped up
		{90, 3 * 24 * time.Hour},   // within bounds
		{3000, 7 * 24 * time.Hour}, // 100d raw, clamped down
	}
	for _, c := range cases {
		est := NewEstimator(portfolio, securities, runStart, runStart.AddDate(0, 0, c.days))
		if est.SnapshotPeriod() != c.want {
			t.Fatalf("%d-day run: period = %v, want %v", c.days, est.SnapshotPeriod(), c.want)
		}
	}
}
