package feed

import (
	"context"
	"log/slog"
	"time"

	"stocklab_go/internal/session"
	"stocklab_go/pkg/quant"
)

// QuoteService answers the engine's price questions from the candle cache,
// backfilling a day's candles over REST when the cache is cold. The live
// tick stream keeps the cache's newest bar fresh; the REST client fills
// history on demand.
type QuoteService struct {
	cache  *CandleCache
	client PriceFeed // nil means cache-only (simulation, tests)
	cal    *session.Calendar
}

// NewQuoteService wires the quote service.
func NewQuoteService(cache *CandleCache, client PriceFeed, cal *session.Calendar) *QuoteService {
	return &QuoteService{cache: cache, client: client, cal: cal}
}

// Cache exposes the underlying candle cache for the stream worker and the
// simulation clock.
func (q *QuoteService) Cache() *CandleCache {
	return q.cache
}

// Latest returns the most recent known price for symbol.
func (q *QuoteService) Latest(ctx context.Context, symbol string) (quant.PriceMicros, error) {
	candle, err := q.cache.Latest(symbol)
	if err == nil {
		return candle.CloseMicros, nil
	}
	if q.client == nil {
		return 0, err
	}
	return q.client.LatestPrice(ctx, symbol)
}

// OpeningPrice returns the open of the first candle of the trading date.
func (q *QuoteService) OpeningPrice(ctx context.Context, symbol string, date time.Time) (quant.PriceMicros, error) {
	start, end := q.dayWindow(date)

	candle, err := q.cache.FirstOfDay(symbol, start, end)
	if err != nil && q.client != nil {
		if berr := q.backfill(ctx, symbol, start, end); berr == nil {
			candle, err = q.cache.FirstOfDay(symbol, start, end)
		}
	}
	if err != nil {
		return 0, err
	}
	return candle.OpenMicros, nil
}

// ClosingPrice returns the close of the last candle printed at or after the
// closing-auction start of the trading date.
func (q *QuoteService) ClosingPrice(ctx context.Context, symbol string, date time.Time) (quant.PriceMicros, error) {
	_, end := q.dayWindow(date)
	cutoff := q.cal.CloseAuctionStart(date)

	candle, err := q.cache.LastOfDayAfter(symbol, cutoff, end)
	if err != nil && q.client != nil {
		if berr := q.backfill(ctx, symbol, cutoff, end); berr == nil {
			candle, err = q.cache.LastOfDayAfter(symbol, cutoff, end)
		}
	}
	if err != nil {
		return 0, err
	}
	return candle.CloseMicros, nil
}

// PriceAt returns the close of the last candle at or before t. Cache-only:
// the simulation clock must never consult the live feed.
func (q *QuoteService) PriceAt(symbol string, t time.Time) (quant.PriceMicros, error) {
	return q.cache.PriceAt(symbol, t)
}

func (q *QuoteService) dayWindow(date time.Time) (time.Time, time.Time) {
	start := q.cal.SessionOpen(date)
	end := start.Add(24 * time.Hour)
	return start, end
}

func (q *QuoteService) backfill(ctx context.Context, symbol string, from, to time.Time) error {
	candles, err := q.client.Candles(ctx, symbol, from, to, "1m")
	if err != nil {
		slog.Warn("candle backfill failed", "symbol", symbol, "from", from, "err", err)
		return err
	}
	q.cache.Put(symbol, candles...)
	return nil
}
