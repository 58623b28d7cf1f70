package domain

import (
	"testing"

	"pgregory.net/rapid"

	"stocklab_go/pkg/quant"
)

// The weighted-average invariant: after buys of (q1,p1) and (q2,p2) the
// average cost equals (q1*p1 + q2*p2) / (q1+q2) exactly.
func TestPosition_WeightedAverageProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q1 := rapid.Int64Range(1, 1_000_000).Draw(t, "q1")
		q2 := rapid.Int64Range(1, 1_000_000).Draw(t, "q2")
		p1 := rapid.Int64Range(1, 1_000_000_000).Draw(t, "p1")
		p2 := rapid.Int64Range(1, 1_000_000_000).Draw(t, "p2")

		pos := &Position{Symbol: "X"}
		pos.AddBuy(quant.Qty(q1), quant.PriceMicros(p1))
		pos.AddBuy(quant.Qty(q2), quant.PriceMicros(p2))

		want := (q1*p1 + q2*p2) / (q1 + q2)
		if got := int64(pos.AvgCostMicros()); got != want {
			t.Fatalf("avg = %d, want %d", got, want)
		}
		if int64(pos.CostMicros) != q1*p1+q2*p2 {
			t.Fatalf("total cost = %d, want %d", pos.CostMicros, q1*p1+q2*p2)
		}
	})
}

// Selling any partial quantity must leave the average cost unchanged and
// never drive quantity negative.
func TestPosition_SellProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buyQty := rapid.Int64Range(2, 100_000).Draw(t, "buyQty")
		price := rapid.Int64Range(1, 1_000_000_000).Draw(t, "price")
		sellQty := rapid.Int64Range(1, buyQty-1).Draw(t, "sellQty")
		sellPrice := rapid.Int64Range(1, 1_000_000_000).Draw(t, "sellPrice")

		pos := &Position{Symbol: "X"}
		pos.AddBuy(quant.Qty(buyQty), quant.PriceMicros(price))
		avgBefore := pos.AvgCostMicros()

		pnl := pos.ReduceSell(quant.Qty(sellQty), quant.PriceMicros(sellPrice))

		if pos.Qty != quant.Qty(buyQty-sellQty) {
			t.Fatalf("qty = %d, want %d", pos.Qty, buyQty-sellQty)
		}
		if pos.AvgCostMicros() != avgBefore {
			t.Fatalf("avg cost changed on sell: %d -> %d", avgBefore, pos.AvgCostMicros())
		}
		wantPnL := (sellPrice - int64(avgBefore)) * sellQty
		if int64(pnl) != wantPnL {
			t.Fatalf("pnl = %d, want %d", pnl, wantPnL)
		}
	})
}
