package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/engine"
	"stocklab_go/internal/feed"
	"stocklab_go/internal/infra"
	"stocklab_go/internal/server"
	"stocklab_go/internal/session"
	"stocklab_go/internal/storage"
	"stocklab_go/pkg/quant"
)

const portfolioUser = "default"

func main() {
	// 1. Configuration and logging
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		slog.Error("❌ Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 2. Storage
	workspace := infra.GetWorkspaceDir()
	if err := infra.EnsureDir(workspace); err != nil {
		logger.Error("❌ Failed to create workspace dir", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := storage.NewStore(filepath.Join(workspace, "stocklab.db"))
	if err != nil {
		logger.Error("❌ Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// 3. Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Portfolio: resume the persisted one, fund a fresh one on first run.
	// Any other load failure means a corrupt database; do not trade on it.
	portfolio, err := store.LoadPortfolio(ctx, portfolioUser)
	switch {
	case err == nil:
		logger.Info("📂 Resumed portfolio",
			slog.Int64("cash", int64(portfolio.CashMicros)),
			slog.Int("positions", len(portfolio.Positions)))
	case errors.Is(err, sql.ErrNoRows):
		portfolio = domain.NewPortfolio(portfolioUser,
			quant.CashMicros(cfg.Portfolio.InitialCash*quant.PriceScale))
		logger.Info("💰 Funded new portfolio", slog.Int64("initial_cash", cfg.Portfolio.InitialCash))
	default:
		logger.Error("❌ Failed to load portfolio", slog.Any("error", err))
		os.Exit(1)
	}
	ledger := engine.NewLedger(portfolio)

	// 5. Price feed: REST client, candle cache, and live tick stream
	cal := session.NewCalendar()
	client := feed.NewClient(cfg.Feed.RestURL, cfg.Feed.APIKey,
		time.Duration(cfg.Feed.RequestTimeoutS)*time.Second)
	cache := feed.NewCandleCache()
	quotes := feed.NewQuoteService(cache, client, cal)

	if cfg.Feed.WSURL != "" {
		stream := feed.NewTickStream(cfg.Feed.WSURL, cfg.Feed.Symbols, func(tk feed.Tick) {
			cache.Put(tk.Symbol, feed.Candle{
				TimeUnixM:   tk.TimeUnixM,
				OpenMicros:  tk.PriceMicros,
				HighMicros:  tk.PriceMicros,
				LowMicros:   tk.PriceMicros,
				CloseMicros: tk.PriceMicros,
			})
		})
		stream.Start(ctx)
		defer stream.Stop()
		logger.Info("✅ Tick stream started", slog.Int("symbols", len(cfg.Feed.Symbols)))
	}

	// 6. Order router and scheduler
	router := engine.NewRouter(ledger, quotes, store, cal, nil, logger)
	sched := engine.NewScheduler(ledger, quotes, store, cal, nil, logger)
	sched.AuctionInterval = time.Duration(cfg.Engine.AuctionPollSec) * time.Second
	sched.PendingInterval = time.Duration(cfg.Engine.PendingPollSec) * time.Second
	go sched.Run(ctx)

	// 7. HTTP server
	challengeCapital := quant.CashMicros(cfg.Challenge.InitialCapital * quant.PriceScale)
	challenge := server.NewChallengeHandler(cache, cal, challengeCapital)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(router, challenge, logger).Handler(),
	}
	go func() {
		logger.Info("✅ HTTP server listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()

	logger.Info("✨ Paper-trading engine operational. Press Ctrl+C to exit.")

	<-ctx.Done()
	logger.Info("👋 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.Any("error", err))
	}
}
