package domain

import (
	"fmt"

	"stocklab_go/pkg/quant"
	"stocklab_go/pkg/safe"
)

// Portfolio owns the cash balance, the cash blocked for open BUY orders, and
// the set of positions. Callers must serialize access (the engine wraps one
// Portfolio per user behind a ledger mutex).
type Portfolio struct {
	UserID        string               `json:"user_id"`
	CashMicros    quant.CashMicros     `json:"cash"`
	BlockedMicros quant.CashMicros     `json:"blocked"`
	Positions     map[string]*Position `json:"positions"`
}

// NewPortfolio creates a portfolio funded with the given starting cash.
func NewPortfolio(userID string, cash quant.CashMicros) *Portfolio {
	return &Portfolio{
		UserID:     userID,
		CashMicros: cash,
		Positions:  make(map[string]*Position),
	}
}

// AvailableMicros is the cash not reserved by pending BUY orders.
func (p *Portfolio) AvailableMicros() quant.CashMicros {
	return quant.CashMicros(safe.Sub(int64(p.CashMicros), int64(p.BlockedMicros)))
}

// Credit adds cash.
func (p *Portfolio) Credit(amount quant.CashMicros) {
	p.CashMicros = quant.CashMicros(safe.Add(int64(p.CashMicros), int64(amount)))
}

// Debit removes cash. Panics if the balance would go negative: the caller
// must have validated sufficiency first, so this is a corrupted-ledger halt.
func (p *Portfolio) Debit(amount quant.CashMicros) {
	next := safe.Sub(int64(p.CashMicros), int64(amount))
	if next < 0 {
		panic(fmt.Sprintf("LEDGER_NEGATIVE_CASH: user=%s debit=%d cash=%d", p.UserID, amount, p.CashMicros))
	}
	p.CashMicros = quant.CashMicros(next)
}

// Block reserves cash for a pending BUY order.
func (p *Portfolio) Block(amount quant.CashMicros) {
	p.BlockedMicros = quant.CashMicros(safe.Add(int64(p.BlockedMicros), int64(amount)))
}

// Release frees previously blocked cash. Clamps at zero: an over-release
// must not drive the reservation negative.
func (p *Portfolio) Release(amount quant.CashMicros) {
	next := safe.Sub(int64(p.BlockedMicros), int64(amount))
	if next < 0 {
		next = 0
	}
	p.BlockedMicros = quant.CashMicros(next)
}

// Position returns the holding for symbol, or nil.
func (p *Portfolio) Position(symbol string) *Position {
	return p.Positions[symbol]
}

// PositionQty returns the held quantity for symbol (0 if none).
func (p *Portfolio) PositionQty(symbol string) quant.Qty {
	if pos := p.Positions[symbol]; pos != nil {
		return pos.Qty
	}
	return 0
}

// TotalValue is cash plus the mark-to-market value of every position.
// Positions with no mark are valued at cost.
func (p *Portfolio) TotalValue(marks map[string]quant.PriceMicros) quant.CashMicros {
	total := int64(p.CashMicros)
	for sym, pos := range p.Positions {
		if mark, ok := marks[sym]; ok {
			total = safe.Add(total, int64(pos.MarketValue(mark)))
		} else {
			total = safe.Add(total, int64(pos.CostMicros))
		}
	}
	return quant.CashMicros(total)
}

// VerifyInvariant panics if the portfolio state is internally inconsistent.
func (p *Portfolio) VerifyInvariant() {
	if p.CashMicros < 0 {
		panic(fmt.Sprintf("PORTFOLIO_NEGATIVE_CASH: user=%s cash=%d", p.UserID, p.CashMicros))
	}
	if p.BlockedMicros < 0 {
		panic(fmt.Sprintf("PORTFOLIO_NEGATIVE_BLOCKED: user=%s blocked=%d", p.UserID, p.BlockedMicros))
	}
	if p.BlockedMicros > p.CashMicros {
		panic(fmt.Sprintf("PORTFOLIO_OVER_RESERVED: user=%s blocked=%d cash=%d", p.UserID, p.BlockedMicros, p.CashMicros))
	}
	for sym, pos := range p.Positions {
		if pos.Qty <= 0 {
			panic(fmt.Sprintf("PORTFOLIO_EMPTY_POSITION: user=%s symbol=%s qty=%d", p.UserID, sym, pos.Qty))
		}
		if pos.CostMicros < 0 {
			panic(fmt.Sprintf("PORTFOLIO_NEGATIVE_COST: user=%s symbol=%s", p.UserID, sym))
		}
	}
}
