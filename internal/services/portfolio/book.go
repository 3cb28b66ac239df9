package portfolio

import (
	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
	domsvc "CapTrack/internal/domain/service"
)

type position struct {
	quantity  decimal.Decimal
	markPrice decimal.Decimal
	leverage  decimal.Decimal
	delisted  bool
}

// Book is an in-memory portfolio ledger built from the same fill
// stream the capacity engine consumes. It is the default
// PortfolioView/SecurityView when no host portfolio service is
// configured, and the one backtests use. Like the engine it assumes a
// single sequential caller.
type Book struct {
	cash      decimal.Decimal
	positions map[string]*position
}

// NewBook creates a ledger seeded with starting cash.
func NewBook(cash decimal.Decimal) *Book {
	return &Book{cash: cash, positions: make(map[string]*position)}
}

func (b *Book) pos(symbol string) *position {
	p, ok := b.positions[symbol]
	if !ok {
		p = &position{leverage: decimal.NewFromInt(1)}
		b.positions[symbol] = p
	}
	return p
}

// ApplyFill adjusts cash and position quantity for one execution.
// Non-fill statuses are ignored.
func (b *Book) ApplyFill(f *models.FillEvent) {
	if f == nil || !f.Status.IsFill() {
		return
	}
	p := b.pos(f.Symbol)
	qty := f.Quantity.Abs()
	notional := f.Price.Mul(qty)
	if f.Direction == models.DirectionSell {
		p.quantity = p.quantity.Sub(qty)
		b.cash = b.cash.Add(notional)
	} else {
		p.quantity = p.quantity.Add(qty)
		b.cash = b.cash.Sub(notional)
	}
	p.markPrice = f.Price
}

// SetMarkPrice updates the valuation price for a symbol.
func (b *Book) SetMarkPrice(symbol string, price decimal.Decimal) {
	b.pos(symbol).markPrice = price
}

// SetLeverage sets the leverage applied to a symbol's position.
func (b *Book) SetLeverage(symbol string, leverage decimal.Decimal) {
	if leverage.IsPositive() {
		b.pos(symbol).leverage = leverage
	}
}

// SetDelisted flags a symbol as delisted.
func (b *Book) SetDelisted(symbol string, delisted bool) {
	b.pos(symbol).delisted = delisted
}

// TotalPortfolioValue is cash plus the marked value of all positions.
func (b *Book) TotalPortfolioValue() decimal.Decimal {
	total := b.cash
	for _, p := range b.positions {
		total = total.Add(p.quantity.Mul(p.markPrice))
	}
	return total
}

func (b *Book) IsDelisted(symbol string) bool {
	if p, ok := b.positions[symbol]; ok {
		return p.delisted
	}
	return false
}

func (b *Book) IsInvested(symbol string) bool {
	if p, ok := b.positions[symbol]; ok {
		return !p.quantity.IsZero()
	}
	return false
}

func (b *Book) Leverage(symbol string) decimal.Decimal {
	if p, ok := b.positions[symbol]; ok {
		return p.leverage
	}
	return decimal.NewFromInt(1)
}

// ReservedBuyingPower is the absolute marked notional of the position
// divided by its leverage.
func (b *Book) ReservedBuyingPower(symbol string) decimal.Decimal {
	p, ok := b.positions[symbol]
	if !ok || p.quantity.IsZero() {
		return decimal.Zero
	}
	return p.quantity.Mul(p.markPrice).Abs().Div(p.leverage)
}

var (
	_ domsvc.PortfolioView = (*Book)(nil)
	_ domsvc.SecurityView  = (*Book)(nil)
)
