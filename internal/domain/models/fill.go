package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state attached to an execution report.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusInvalid         OrderStatus = "invalid"
)

// IsFill reports whether the status carries an actual execution.
func (s OrderStatus) IsFill() bool {
	return s == OrderStatusFilled || s == OrderStatusPartiallyFilled
}

// Direction is the side of an execution.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// FillEvent is a single execution report. Produced by the host
// brokerage/backtest and consumed read-only. Events must arrive in
// non-decreasing Time order.
type FillEvent struct {
	Symbol    string          `json:"symbol"`
	Status    OrderStatus     `json:"status"`
	Direction Direction       `json:"direction"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Time      time.Time       `json:"time"`
}

// DollarVolume returns the absolute notional of the fill.
func (f *FillEvent) DollarVolume() decimal.Decimal {
	return f.Price.Mul(f.Quantity.Abs())
}
