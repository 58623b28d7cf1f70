// Package engine contains the order router, the ledger, and the background
// scheduler that resolves queued orders. All monetary math is int64 micros
// through pkg/safe; the ledger is the only place portfolio state mutates.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/pkg/quant"
	"stocklab_go/pkg/safe"
)

// Fill is the result snapshot of applying an order against the ledger.
type Fill struct {
	OrderID        string            `json:"order_id"`
	Symbol         string            `json:"symbol"`
	Side           domain.Side       `json:"side"`
	Qty            quant.Qty         `json:"qty"`
	PriceMicros    quant.PriceMicros `json:"price"`
	RealizedMicros quant.CashMicros  `json:"realized_pnl"` // sells only
}

// PositionSummary is one holding valued against a mark price.
type PositionSummary struct {
	Symbol           string            `json:"symbol"`
	Qty              quant.Qty         `json:"qty"`
	AvgCostMicros    quant.PriceMicros `json:"avg_cost"`
	MarkMicros       quant.PriceMicros `json:"mark"`
	MarketMicros     quant.CashMicros  `json:"market_value"`
	UnrealizedMicros quant.CashMicros  `json:"unrealized_pnl"`
}

// Summary is the full portfolio view at a set of mark prices.
type Summary struct {
	CashMicros    quant.CashMicros  `json:"cash"`
	BlockedMicros quant.CashMicros  `json:"blocked"`
	Positions     []PositionSummary `json:"positions"`
	TotalMicros   quant.CashMicros  `json:"total_value"`
}

// Ledger serializes every mutation of one portfolio behind a mutex. Orders
// are filled here and nowhere else; the router and scheduler both route
// through ApplyFill so apply-time re-validation cannot be bypassed.
type Ledger struct {
	mu        sync.Mutex
	portfolio *domain.Portfolio
}

// NewLedger wraps the given portfolio.
func NewLedger(p *domain.Portfolio) *Ledger {
	return &Ledger{portfolio: p}
}

// ApplyFill executes the order in full at price. The check-then-mutate
// sequence runs under the ledger lock, so sufficiency cannot be raced away
// between validation and the debit. Replaying a FILLED order returns its
// original fill without touching state. Terminal non-filled orders return
// ErrConflict. On any error the order and the portfolio are left unchanged.
func (l *Ledger) ApplyFill(o *domain.Order, price quant.PriceMicros, now time.Time) (*Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if o.Status == domain.StatusFilled {
		return fillOf(o), nil
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrConflict, o.ID, o.Status)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: non-positive fill price for order %s", domain.ErrPriceUnavailable, o.ID)
	}

	cost := quant.CashMicros(safe.Mul(int64(price), int64(o.Qty)))
	fill := &Fill{OrderID: o.ID, Symbol: o.Symbol, Side: o.Side, Qty: o.Qty, PriceMicros: price}

	switch o.Side {
	case domain.SideBuy:
		// The order's own reservation still counts toward its purchasing
		// power; prices move between queueing and resolution.
		usable := safe.Add(int64(l.portfolio.AvailableMicros()), int64(o.BlockedMicros))
		if int64(cost) > usable {
			return nil, fmt.Errorf("%w: order %s needs %d, available %d",
				domain.ErrInsufficientFunds, o.ID, cost, usable)
		}
		l.portfolio.Release(o.BlockedMicros)
		l.portfolio.Debit(cost)
		pos := l.portfolio.Position(o.Symbol)
		if pos == nil {
			pos = &domain.Position{Symbol: o.Symbol}
			l.portfolio.Positions[o.Symbol] = pos
		}
		pos.AddBuy(o.Qty, price)

	case domain.SideSell:
		pos := l.portfolio.Position(o.Symbol)
		if pos == nil || pos.Qty < o.Qty {
			return nil, fmt.Errorf("%w: order %s sells %d of %s",
				domain.ErrInsufficientPosition, o.ID, o.Qty, o.Symbol)
		}
		fill.RealizedMicros = pos.ReduceSell(o.Qty, price)
		l.portfolio.Credit(cost)
		if pos.Qty == 0 {
			delete(l.portfolio.Positions, o.Symbol)
		}

	default:
		return nil, domain.Validation("unknown order side")
	}

	o.Status = domain.StatusFilled
	o.FilledPriceMicros = price
	o.FilledQty = o.Qty
	o.FilledUnixM = now.UnixMicro()
	o.BlockedMicros = 0

	l.portfolio.VerifyInvariant()
	return fill, nil
}

func fillOf(o *domain.Order) *Fill {
	return &Fill{
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Qty:         o.FilledQty,
		PriceMicros: o.FilledPriceMicros,
	}
}

// BlockForOrder reserves cash for a waiting BUY order after checking the
// amount fits in the unreserved balance. Records the reservation on the
// order so cancel and fill release exactly what was taken.
func (l *Ledger) BlockForOrder(o *domain.Order, amount quant.CashMicros) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.portfolio.AvailableMicros() {
		return fmt.Errorf("%w: need %d, available %d",
			domain.ErrInsufficientFunds, amount, l.portfolio.AvailableMicros())
	}
	l.portfolio.Block(amount)
	o.BlockedMicros = amount
	return nil
}

// ReleaseOrder frees the order's cash reservation, if any.
func (l *Ledger) ReleaseOrder(o *domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.portfolio.Release(o.BlockedMicros)
	o.BlockedMicros = 0
}

// AvailableCash returns the unreserved balance.
func (l *Ledger) AvailableCash() quant.CashMicros {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portfolio.AvailableMicros()
}

// PositionQty returns the held quantity for symbol.
func (l *Ledger) PositionQty(symbol string) quant.Qty {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portfolio.PositionQty(symbol)
}

// Summary values the portfolio against the given marks. Symbols with no
// mark are valued at cost, matching Portfolio.TotalValue.
func (l *Ledger) Summary(marks map[string]quant.PriceMicros) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		CashMicros:    l.portfolio.CashMicros,
		BlockedMicros: l.portfolio.BlockedMicros,
		TotalMicros:   l.portfolio.TotalValue(marks),
	}
	for sym, pos := range l.portfolio.Positions {
		ps := PositionSummary{
			Symbol:        sym,
			Qty:           pos.Qty,
			AvgCostMicros: pos.AvgCostMicros(),
		}
		if mark, ok := marks[sym]; ok {
			ps.MarkMicros = mark
			ps.MarketMicros = pos.MarketValue(mark)
			ps.UnrealizedMicros = pos.UnrealizedPnL(mark)
		} else {
			ps.MarkMicros = pos.AvgCostMicros()
			ps.MarketMicros = pos.CostMicros
		}
		s.Positions = append(s.Positions, ps)
	}
	sort.Slice(s.Positions, func(i, j int) bool {
		return s.Positions[i].Symbol < s.Positions[j].Symbol
	})
	return s
}

// Snapshot returns a deep copy of the portfolio for persistence.
func (l *Ledger) Snapshot() *domain.Portfolio {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := &domain.Portfolio{
		UserID:        l.portfolio.UserID,
		CashMicros:    l.portfolio.CashMicros,
		BlockedMicros: l.portfolio.BlockedMicros,
		Positions:     make(map[string]*domain.Position, len(l.portfolio.Positions)),
	}
	for sym, pos := range l.portfolio.Positions {
		p := *pos
		cp.Positions[sym] = &p
	}
	return cp
}
