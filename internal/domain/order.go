package domain

import (
	"time"

	"stocklab_go/pkg/quant"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType classifies how an order is matched.
// ATO/ATC are auction orders: they execute at the session open/close auction
// of their trigger date, never at submission time.
type OrderType string

const (
	TypeMarket        OrderType = "MARKET"
	TypeLimit         OrderType = "LIMIT"
	TypeMarketToLimit OrderType = "MTL"
	TypeATO           OrderType = "ATO"
	TypeATC           OrderType = "ATC"
)

func (t OrderType) Valid() bool {
	switch t {
	case TypeMarket, TypeLimit, TypeMarketToLimit, TypeATO, TypeATC:
		return true
	}
	return false
}

// IsAuction reports whether the order resolves at an auction event.
func (t OrderType) IsAuction() bool {
	return t == TypeATO || t == TypeATC
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusFilled    Status = "FILLED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether the order may no longer be mutated.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusCancelled
}

// Order is a paper-trading order. All monetary values are strictly int64
// micros of the feed unit. Created by the router; mutated only by the ledger
// (on fill) or the scheduler (on resolution); immutable once terminal.
type Order struct {
	ID                string            `json:"id"`
	Symbol            string            `json:"symbol"`
	Side              Side              `json:"side"`
	Type              OrderType         `json:"type"`
	Qty               quant.Qty         `json:"qty"`
	LimitPriceMicros  quant.PriceMicros `json:"limit_price,omitempty"` // LIMIT only
	Status            Status            `json:"status"`
	FilledPriceMicros quant.PriceMicros `json:"filled_price,omitempty"`
	FilledQty         quant.Qty         `json:"filled_qty,omitempty"`
	CreatedUnixM      int64             `json:"created_unix"`
	FilledUnixM       int64             `json:"filled_unix,omitempty"`
	CancelledUnixM    int64             `json:"cancelled_unix,omitempty"`
	// BlockedMicros is the cash reserved for this order while it waits.
	// Released on fill, cancellation, or rejection. Zero for sells.
	BlockedMicros quant.CashMicros `json:"blocked,omitempty"`
	// TriggerDate is the trading date whose auction resolves this order.
	// Zero for non-auction orders.
	TriggerDate time.Time `json:"trigger_date,omitempty"`
}

// IsOpen reports whether the order is still waiting to fill.
func (o *Order) IsOpen() bool {
	return o.Status == StatusPending || o.Status == StatusQueued
}
