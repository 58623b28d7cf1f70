// Package feed provides access to the historical/live OHLCV price oracle.
package feed

import (
	"context"
	"time"

	"stocklab_go/pkg/quant"
)

// Candle is one OHLCV bar. Prices are micros of the feed unit.
type Candle struct {
	TimeUnixM   int64             `json:"time"`
	OpenMicros  quant.PriceMicros `json:"open"`
	HighMicros  quant.PriceMicros `json:"high"`
	LowMicros   quant.PriceMicros `json:"low"`
	CloseMicros quant.PriceMicros `json:"close"`
	Volume      int64             `json:"volume"`
}

// Time returns the candle timestamp as time.Time.
func (c Candle) Time() time.Time {
	return time.UnixMicro(c.TimeUnixM)
}

// PriceFeed is the external price oracle. Implementations must map transient
// failures (network, no data yet) to domain.ErrPriceUnavailable so callers
// can retry instead of rejecting orders.
type PriceFeed interface {
	// Candles returns OHLCV bars for [from, to] in ascending time order.
	Candles(ctx context.Context, symbol string, from, to time.Time, interval string) ([]Candle, error)

	// LatestPrice returns the most recent known price for symbol.
	LatestPrice(ctx context.Context, symbol string) (quant.PriceMicros, error)
}
