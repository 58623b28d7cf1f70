package domain

import (
	"stocklab_go/pkg/quant"
	"stocklab_go/pkg/safe"
)

// Position is a long holding in a single symbol. The cost basis is stored as
// the total cost rather than the average so that the weighted average stays
// exact under integer arithmetic across any sequence of buys.
type Position struct {
	Symbol     string           `json:"symbol"`
	Qty        quant.Qty        `json:"qty"`
	CostMicros quant.CashMicros `json:"cost"` // total cost of the open quantity
}

// AvgCostMicros returns the weighted average cost per share.
func (p *Position) AvgCostMicros() quant.PriceMicros {
	if p.Qty == 0 {
		return 0
	}
	return quant.PriceMicros(safe.Div(int64(p.CostMicros), int64(p.Qty)))
}

// MarketValue values the position at the given mark price.
func (p *Position) MarketValue(mark quant.PriceMicros) quant.CashMicros {
	return quant.CashMicros(safe.Mul(int64(mark), int64(p.Qty)))
}

// UnrealizedPnL is (mark - avgCost) x qty.
func (p *Position) UnrealizedPnL(mark quant.PriceMicros) quant.CashMicros {
	return quant.CashMicros(safe.Sub(int64(p.MarketValue(mark)), int64(p.CostMicros)))
}

// AddBuy applies a buy fill: qty grows, total cost grows by price x qty.
func (p *Position) AddBuy(qty quant.Qty, price quant.PriceMicros) {
	p.Qty = quant.Qty(safe.Add(int64(p.Qty), int64(qty)))
	p.CostMicros = quant.CashMicros(safe.Add(int64(p.CostMicros), safe.Mul(int64(price), int64(qty))))
}

// ReduceSell applies a sell fill and returns the realized PnL. The average
// cost is unchanged by partial sells: cost is reduced pro-rata at avg cost.
func (p *Position) ReduceSell(qty quant.Qty, price quant.PriceMicros) quant.CashMicros {
	avg := p.AvgCostMicros()
	proceeds := safe.Mul(int64(price), int64(qty))
	costOut := safe.Mul(int64(avg), int64(qty))

	p.Qty = quant.Qty(safe.Sub(int64(p.Qty), int64(qty)))
	if p.Qty == 0 {
		p.CostMicros = 0
	} else {
		p.CostMicros = quant.CashMicros(safe.Sub(int64(p.CostMicros), costOut))
	}
	return quant.CashMicros(safe.Sub(proceeds, costOut))
}
