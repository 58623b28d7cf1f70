package domain

import (
	"testing"

	"stocklab_go/pkg/quant"
)

func TestPortfolio_CreditDebit(t *testing.T) {
	p := NewPortfolio("u1", 1000)

	p.Credit(100)
	if p.CashMicros != 1100 {
		t.Errorf("cash = %d, want 1100", p.CashMicros)
	}

	p.Debit(300)
	if p.CashMicros != 800 {
		t.Errorf("cash = %d, want 800", p.CashMicros)
	}

	p.VerifyInvariant()
}

func TestPortfolio_BlockRelease(t *testing.T) {
	p := NewPortfolio("u1", 1000)

	p.Block(400)
	if p.BlockedMicros != 400 {
		t.Errorf("blocked = %d, want 400", p.BlockedMicros)
	}
	if p.AvailableMicros() != 600 {
		t.Errorf("available = %d, want 600", p.AvailableMicros())
	}

	p.Release(200)
	if p.BlockedMicros != 200 {
		t.Errorf("blocked = %d, want 200", p.BlockedMicros)
	}

	// over-release clamps at zero
	p.Release(9999)
	if p.BlockedMicros != 0 {
		t.Errorf("blocked = %d, want 0 after over-release", p.BlockedMicros)
	}

	p.VerifyInvariant()
}

func TestPortfolio_DebitPanics_Insufficient(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for debit past zero")
		}
	}()

	p := NewPortfolio("u1", 50)
	p.Debit(100)
}

func TestPortfolio_InvariantPanics_OverReserved(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when blocked > cash")
		}
	}()

	p := NewPortfolio("u1", 100)
	p.BlockedMicros = 200
	p.VerifyInvariant()
}

func TestPortfolio_TotalValue(t *testing.T) {
	p := NewPortfolio("u1", quant.CashMicros(1000*quant.PriceScale))
	pos := &Position{Symbol: "VNM"}
	pos.AddBuy(10, quant.ToPriceMicros(20))
	p.Positions["VNM"] = pos

	marks := map[string]quant.PriceMicros{"VNM": quant.ToPriceMicros(25)}
	got := p.TotalValue(marks)
	want := quant.CashMicros((1000 + 10*25) * quant.PriceScale)
	if got != want {
		t.Errorf("total value = %d, want %d", got, want)
	}

	// no mark falls back to cost
	got = p.TotalValue(nil)
	want = quant.CashMicros((1000 + 10*20) * quant.PriceScale)
	if got != want {
		t.Errorf("total value without marks = %d, want %d", got, want)
	}
}
