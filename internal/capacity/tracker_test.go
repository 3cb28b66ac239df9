package capacity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"CapTrack/internal/domain/models"
)

func TestSymbolLiquidityAccumulation(t *testing.T) {
	tr := NewSymbolLiquidity(
		WithParticipationRate(decimal.New(10, -2)), // 10%
		WithWindowTrades(3),
	)

	at := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	tr.OnFillEvent(&models.FillEvent{
		Symbol:   "AAPL",
		Status:   models.OrderStatusFilled,
		Quantity: decimal.NewFromInt(2),
		Price:    decimal.NewFromInt(100),
		Time:     at,
	})

	if !tr.SaleVolume().Equal(decimal.NewFromInt(200)) {
		t.Fatalf("sale volume = %s, want 200", tr.SaleVolume())
	}
	// 200 notional at 10% participation implies 2000 of market volume.
	if !tr.MarketDollarVolume().Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("market dollar volume = %s, want 2000", tr.MarketDollarVolume())
	}
	if tr.TradeCount() != 1 {
		t.Fatalf("trade count = %d, want 1", tr.TradeCount())
	}
	if !tr.LastFillTime().Equal(at) {
		t.Fatalf("last fill time = %v, want %v", tr.LastFillTime(), at)
	}
}

func TestSymbolLiquidityNegativeQuantity(t *testing.T) {
	tr := NewSymbolLiquidity()
	tr.OnFillEvent(&models.FillEvent{
		Symbol:    "AAPL",
		Status:    models.OrderStatusPartiallyFilled,
		Direction: models.DirectionSell,
		Quantity:  decimal.NewFromInt(-5),
		Price:     decimal.NewFromInt(10),
	})
	if !tr.SaleVolume().Equal(decimal.NewFromInt(50)) {
		t.Fatalf("sale volume = %s, want 50 (absolute notional)", tr.SaleVolume())
	}
}

func TestSymbolLiquidityIgnoresNonFills(t *testing.T) {
	tr := NewSymbolLiquidity()
	tr.OnFillEvent(&models.FillEvent{
		Symbol:   "AAPL",
		Status:   models.OrderStatusCanceled,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(100),
	})
	if tr.TradeCount() != 0 || !tr.SaleVolume().IsZero() {
		t.Fatalf("non-fill status mutated the tracker")
	}
}

func TestSymbolLiquidityWindowClose(t *testing.T) {
	tr := NewSymbolLiquidity(WithWindowTrades(2))
	f := &models.FillEvent{
		Symbol:   "AAPL",
		Status:   models.OrderStatusFilled,
		Quantity: decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(1),
	}

	tr.OnFillEvent(f)
	if tr.TryCloseWindow() {
		t.Fatalf("window closed after 1 of 2 trades")
	}
	tr.OnFillEvent(f)
	if !tr.TryCloseWindow() {
		t.Fatalf("window open after reaching the trade target")
	}
}

func TestSymbolLiquidityReset(t *testing.T) {
	tr := NewSymbolLiquidity()
	tr.OnFillEvent(&models.FillEvent{
		Symbol:   "AAPL",
		Status:   models.OrderStatusFilled,
		Quantity: decimal.NewFromInt(3),
		Price:    decimal.NewFromInt(7),
		Time:     time.Now().UTC(),
	})

	tr.Reset()
	if !tr.MarketDollarVolume().IsZero() || !tr.SaleVolume().IsZero() || tr.TradeCount() != 0 {
		t.Fatalf("reset left accumulated state behind")
	}
	if !tr.LastFillTime().IsZero() {
		t.Fatalf("reset left last fill time behind")
	}
}
