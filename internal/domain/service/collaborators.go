package service

import (
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
)

// PortfolioView exposes the valuation the capacity engine needs from
// the host portfolio. Valuation and margin math live with the host.
type PortfolioView interface {
	TotalPortfolioValue() decimal.Decimal
}

// SecurityView exposes per-instrument live state.
type SecurityView interface {
	IsDelisted(symbol string) bool
	IsInvested(symbol string) bool
	Leverage(symbol string) decimal.Decimal
	// ReservedBuyingPower returns the absolute buying power reserved
	// for the current position in symbol.
	ReservedBuyingPower(symbol string) decimal.Decimal
}

// Clock supplies the current UTC time. The engine never reads the
// system clock directly so backtests can drive simulated time.
type Clock interface {
	Now() time.Time
}

// LiquidityTracker accumulates one instrument's fills into a
// market-dollar-volume estimate over a measurement window. The
// modeling behind the estimate may vary by asset class; the engine
// only depends on this surface.
type LiquidityTracker interface {
	OnFillEvent(f *models.FillEvent)
	// TryCloseWindow reports whether the tracker has seen enough
	// independent trades that it no longer needs per-step monitoring.
	TryCloseWindow() bool
	MarketDollarVolume() decimal.Decimal
	TradeCount() int
	SaleVolume() decimal.Decimal
	LastFillTime() time.Time
	Reset()
}
