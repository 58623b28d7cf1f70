// A scripted run of the practice-challenge mode: load a day of candles from
// the feed, start a challenge, walk the session, trade, and print the report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/engine"
	"stocklab_go/internal/feed"
	"stocklab_go/internal/infra"
	"stocklab_go/internal/session"
	"stocklab_go/internal/sim"
	"stocklab_go/pkg/quant"
)

func main() {
	symbol := flag.String("symbol", "VNM", "symbol to trade")
	date := flag.String("date", "", "trading date (2006-01-02), defaults to the last trading day")
	capital := flag.Int64("capital", 100_000, "starting capital in feed units (thousands of VND)")
	flag.Parse()

	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	cal := session.NewCalendar()
	day := resolveDate(cal, *date)

	fmt.Printf("=== StockLab Challenge: %s on %s ===\n\n", *symbol, day.Format("2006-01-02"))

	// Pull the day's candles into the cache.
	client := feed.NewClient(cfg.Feed.RestURL, cfg.Feed.APIKey,
		time.Duration(cfg.Feed.RequestTimeoutS)*time.Second)
	cache := feed.NewCandleCache()

	ctx := context.Background()
	candles, err := client.Candles(ctx, *symbol, cal.SessionOpen(day), cal.SessionClose(day), "1m")
	if err != nil {
		slog.Error("failed to fetch candles", slog.Any("error", err))
		os.Exit(1)
	}
	cache.Put(*symbol, candles...)
	fmt.Printf("📊 Loaded %d candles\n", len(candles))

	ctrl, err := sim.NewController(sim.Config{
		Symbol:               *symbol,
		InitialCapitalMicros: quant.CashMicros(*capital * quant.PriceScale),
		Start:                cal.SessionOpen(day),
		End:                  cal.SessionClose(day),
	}, cache, cal, logger)
	if err != nil {
		slog.Error("failed to start challenge", slog.Any("error", err))
		os.Exit(1)
	}

	// Buy at the open, walk the morning, sell half, run to the close.
	script := []struct {
		step sim.Step
		side domain.Side
		qty  quant.Qty
	}{
		{step: sim.Step5m, side: domain.SideBuy, qty: 100},
		{step: sim.Step30m},
		{step: sim.Step1h, side: domain.SideSell, qty: 50},
		{step: sim.Step1h},
		{step: sim.Step1h},
	}

	for _, act := range script {
		now, err := ctrl.Advance(act.step)
		if err != nil {
			fmt.Printf("⏭  clock stuck (%v), stopping early\n", err)
			break
		}
		fmt.Printf("🕒 %s\n", now.Format("15:04"))

		if act.side != "" {
			o, err := ctrl.Submit(engine.OrderRequest{
				Symbol: *symbol, Side: act.side, Type: domain.TypeMarket, Qty: act.qty,
			})
			if err != nil {
				fmt.Printf("   order rejected: %v\n", err)
				continue
			}
			fmt.Printf("   %s %d @ %s\n", o.Side, o.FilledQty, o.FilledPriceMicros)
		}
	}

	report, err := ctrl.End()
	if err != nil {
		slog.Error("failed to end challenge", slog.Any("error", err))
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("💰 Final value: %s (%.2f%%)\n", report.FinalValueMicros, report.PnLPercent)
	fmt.Printf("✅ PnL: %d VND\n", report.PnLMicros.ToVND())
}

// resolveDate parses the flag or falls back to the most recent trading day.
func resolveDate(cal *session.Calendar, flagValue string) time.Time {
	if flagValue != "" {
		d, err := time.ParseInLocation("2006-01-02", flagValue, cal.Location())
		if err != nil {
			slog.Error("invalid -date", slog.Any("error", err))
			os.Exit(1)
		}
		return d
	}

	d := time.Now().In(cal.Location())
	for !cal.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
