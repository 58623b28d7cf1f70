package sim

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/engine"
	"stocklab_go/internal/feed"
	"stocklab_go/internal/session"
	"stocklab_go/pkg/quant"
)

func cash(units int64) quant.CashMicros {
	return quant.CashMicros(units * quant.PriceScale)
}

func seedCache(prices map[time.Time]float64) *feed.CandleCache {
	cache := feed.NewCandleCache()
	for at, p := range prices {
		m := quant.ToPriceMicros(p)
		cache.Put("VNM", feed.Candle{
			TimeUnixM: at.UnixMicro(), OpenMicros: m, HighMicros: m, LowMicros: m, CloseMicros: m,
		})
	}
	return cache
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newChallenge(t *testing.T, cache *feed.CandleCache, start, end time.Time) *Controller {
	t.Helper()
	c, err := NewController(Config{
		Symbol:               "VNM",
		InitialCapitalMicros: cash(1000),
		Start:                start,
		End:                  end,
	}, cache, session.NewCalendar(), quietLog())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestController_AdvanceIsFailClosed(t *testing.T) {
	start := day(2, 9, 30)
	cache := seedCache(map[time.Time]float64{start: 20})
	c := newChallenge(t, cache, start, day(2, 14, 45))

	before := c.Now()

	// The cache has a price at start, so jumping forward still finds one
	// (at-or-before semantics). Wipe that by asking for a jump from an
	// empty cache instead.
	empty := feed.NewCandleCache()
	c2 := newChallenge(t, empty, start, day(2, 14, 45))
	if _, err := c2.Advance(Step5m); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable from empty cache, got %v", err)
	}
	if !c2.Now().Equal(before) {
		t.Errorf("failed advance moved the clock: %v", c2.Now())
	}

	// With data the jump lands.
	got, err := c.Advance(Step5m)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !got.Equal(day(2, 9, 35)) {
		t.Errorf("landed %v, want 09:35", got)
	}
}

func TestController_SubmitFillsImmediately(t *testing.T) {
	start := day(2, 9, 30)
	cache := seedCache(map[time.Time]float64{start: 20})
	c := newChallenge(t, cache, start, day(2, 14, 45))

	// Declared LIMIT type still fills at once in challenge mode.
	o, err := c.Submit(engine.OrderRequest{
		Symbol: "VNM", Side: domain.SideBuy, Type: domain.TypeLimit, Qty: 10,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.Status != domain.StatusFilled || o.FilledPriceMicros != quant.ToPriceMicros(20) {
		t.Fatalf("order = %+v, want FILLED@20", o)
	}

	s := c.Summary()
	if s.CashMicros != cash(800) {
		t.Errorf("cash = %d, want %d", s.CashMicros, cash(800))
	}
	if len(c.Orders()) != 1 {
		t.Errorf("orders = %d, want 1", len(c.Orders()))
	}
}

func TestController_SubmitRejections(t *testing.T) {
	start := day(2, 9, 30)
	cache := seedCache(map[time.Time]float64{start: 20})
	c := newChallenge(t, cache, start, day(2, 14, 45))

	if _, err := c.Submit(engine.OrderRequest{
		Symbol: "FPT", Side: domain.SideBuy, Type: domain.TypeMarket, Qty: 10,
	}); err == nil {
		t.Error("expected rejection for a foreign symbol")
	}

	if _, err := c.Submit(engine.OrderRequest{
		Symbol: "VNM", Side: domain.SideSell, Type: domain.TypeMarket, Qty: 10,
	}); !errors.Is(err, domain.ErrInsufficientPosition) {
		t.Errorf("expected ErrInsufficientPosition, got %v", err)
	}

	if _, err := c.Submit(engine.OrderRequest{
		Symbol: "VNM", Side: domain.SideBuy, Type: domain.TypeMarket, Qty: 1_000_000,
	}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestController_EndReportsPnL(t *testing.T) {
	start := day(2, 9, 30)
	end := day(2, 14, 45)
	cache := seedCache(map[time.Time]float64{
		start:         20,
		day(2, 14, 0): 25,
	})
	c := newChallenge(t, cache, start, end)

	if _, err := c.Submit(engine.OrderRequest{
		Symbol: "VNM", Side: domain.SideBuy, Type: domain.TypeMarket, Qty: 10,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	report, err := c.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	// 800 cash + 10 shares marked at the last price 25 = 1050.
	if report.FinalValueMicros != cash(1050) {
		t.Errorf("final = %d, want %d", report.FinalValueMicros, cash(1050))
	}
	if report.PnLMicros != cash(50) {
		t.Errorf("pnl = %d, want %d", report.PnLMicros, cash(50))
	}
	if report.PnLPercent != 5.0 {
		t.Errorf("pnl%% = %v, want 5", report.PnLPercent)
	}

	// The challenge is over: everything returns ErrSessionEnded.
	if _, err := c.End(); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("second End: %v", err)
	}
	if _, err := c.Submit(engine.OrderRequest{
		Symbol: "VNM", Side: domain.SideBuy, Type: domain.TypeMarket, Qty: 1,
	}); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("Submit after End: %v", err)
	}
	if _, err := c.Advance(Step1m); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("Advance after End: %v", err)
	}
}

func TestController_LedgerIsolation(t *testing.T) {
	start := day(2, 9, 30)
	cache := seedCache(map[time.Time]float64{start: 20})

	a := newChallenge(t, cache, start, day(2, 14, 45))
	b := newChallenge(t, cache, start, day(2, 14, 45))

	if _, err := a.Submit(engine.OrderRequest{
		Symbol: "VNM", Side: domain.SideBuy, Type: domain.TypeMarket, Qty: 10,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := b.Summary().CashMicros; got != cash(1000) {
		t.Errorf("second challenge cash = %d, want untouched %d", got, cash(1000))
	}
}
