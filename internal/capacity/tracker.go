package capacity

import (
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
	domsvc "CapTrack/internal/domain/service"
)

// Defaults for the built-in liquidity model: assume the strategy's
// fills are at most 5% of the market's traded volume, and stop
// per-step monitoring after 10 independent trades.
var defaultParticipationRate = decimal.New(5, -2)

const defaultWindowTrades = 10

// SymbolLiquidity is the built-in LiquidityTracker. It scales each
// fill's notional by the inverse participation rate to estimate the
// market dollar volume the fill implies. Hosts with richer volume data
// can supply their own tracker via WithTrackerFactory.
type SymbolLiquidity struct {
	participation decimal.Decimal
	windowTrades  int

	marketDollarVolume decimal.Decimal
	saleVolume         decimal.Decimal
	trades             int
	lastFill           time.Time
}

// TrackerOption configures SymbolLiquidity.
type TrackerOption func(*SymbolLiquidity)

// WithParticipationRate sets the assumed share of market volume the
// strategy's fills represent. Must be positive.
func WithParticipationRate(rate decimal.Decimal) TrackerOption {
	return func(t *SymbolLiquidity) {
		if rate.IsPositive() {
			t.participation = rate
		}
	}
}

// WithWindowTrades sets how many trades complete a window naturally.
func WithWindowTrades(n int) TrackerOption {
	return func(t *SymbolLiquidity) {
		if n > 0 {
			t.windowTrades = n
		}
	}
}

// NewSymbolLiquidity creates a tracker with default modeling.
func NewSymbolLiquidity(opts ...TrackerOption) *SymbolLiquidity {
	t := &SymbolLiquidity{
		participation: defaultParticipationRate,
		windowTrades:  defaultWindowTrades,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnFillEvent accumulates one execution into the current window.
func (t *SymbolLiquidity) OnFillEvent(f *models.FillEvent) {
	if f == nil || !f.Status.IsFill() {
		return
	}
	dollar := f.DollarVolume()
	t.saleVolume = t.saleVolume.Add(dollar)
	t.marketDollarVolume = t.marketDollarVolume.Add(dollar.Div(t.participation))
	t.trades++
	t.lastFill = f.Time
}

// TryCloseWindow reports whether enough trades have been observed that
// the instrument no longer needs per-step monitoring.
func (t *SymbolLiquidity) TryCloseWindow() bool {
	return t.trades >= t.windowTrades
}

func (t *SymbolLiquidity) MarketDollarVolume() decimal.Decimal { return t.marketDollarVolume }

func (t *SymbolLiquidity) TradeCount() int { return t.trades }

func (t *SymbolLiquidity) SaleVolume() decimal.Decimal { return t.saleVolume }

func (t *SymbolLiquidity) LastFillTime() time.Time { return t.lastFill }

// Reset zeroes the window. Called unconditionally at settlement.
func (t *SymbolLiquidity) Reset() {
	t.marketDollarVolume = decimal.Zero
	t.saleVolume = decimal.Zero
	t.trades = 0
	t.lastFill = time.Time{}
}

var _ domsvc.LiquidityTracker = (*SymbolLiquidity)(nil)
