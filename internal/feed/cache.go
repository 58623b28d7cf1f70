package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"stocklab_go/internal/domain"
	"stocklab_go/pkg/quant"
)

// CandleCache holds candles per symbol ordered by time, supporting the
// at-or-before lookups the simulation clock and the auction scheduler need.
type CandleCache struct {
	mu      sync.RWMutex
	symbols map[string]*btree.BTreeG[Candle]
}

// NewCandleCache creates an empty cache.
func NewCandleCache() *CandleCache {
	return &CandleCache{symbols: make(map[string]*btree.BTreeG[Candle])}
}

func candleLess(a, b Candle) bool {
	return a.TimeUnixM < b.TimeUnixM
}

// Put inserts or replaces candles for symbol.
func (c *CandleCache) Put(symbol string, candles ...Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree, ok := c.symbols[symbol]
	if !ok {
		tree = btree.NewG(16, candleLess)
		c.symbols[symbol] = tree
	}
	for _, candle := range candles {
		tree.ReplaceOrInsert(candle)
	}
}

// At returns the last candle at or before t. Returns ErrPriceUnavailable
// when the cache has no data that early.
func (c *CandleCache) At(symbol string, t time.Time) (Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tree, ok := c.symbols[symbol]
	if !ok || tree.Len() == 0 {
		return Candle{}, fmt.Errorf("%w: no candles cached for %s", domain.ErrPriceUnavailable, symbol)
	}

	pivot := Candle{TimeUnixM: t.UnixMicro()}
	var found Candle
	var hit bool
	tree.DescendLessOrEqual(pivot, func(item Candle) bool {
		found = item
		hit = true
		return false
	})
	if !hit {
		return Candle{}, fmt.Errorf("%w: no candle at or before %s for %s", domain.ErrPriceUnavailable, t, symbol)
	}
	return found, nil
}

// PriceAt returns the close of the last candle at or before t.
func (c *CandleCache) PriceAt(symbol string, t time.Time) (quant.PriceMicros, error) {
	candle, err := c.At(symbol, t)
	if err != nil {
		return 0, err
	}
	return candle.CloseMicros, nil
}

// Latest returns the most recent candle for symbol.
func (c *CandleCache) Latest(symbol string) (Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tree, ok := c.symbols[symbol]
	if !ok || tree.Len() == 0 {
		return Candle{}, fmt.Errorf("%w: no candles cached for %s", domain.ErrPriceUnavailable, symbol)
	}
	candle, _ := tree.Max()
	return candle, nil
}

// FirstOfDay returns the first candle at or after dayStart, provided it still
// falls before dayEnd. Used for the opening-auction reference price.
func (c *CandleCache) FirstOfDay(symbol string, dayStart, dayEnd time.Time) (Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tree, ok := c.symbols[symbol]
	if !ok || tree.Len() == 0 {
		return Candle{}, fmt.Errorf("%w: no candles cached for %s", domain.ErrPriceUnavailable, symbol)
	}

	pivot := Candle{TimeUnixM: dayStart.UnixMicro()}
	var found Candle
	var hit bool
	tree.AscendGreaterOrEqual(pivot, func(item Candle) bool {
		found = item
		hit = true
		return false
	})
	if !hit || found.TimeUnixM >= dayEnd.UnixMicro() {
		return Candle{}, fmt.Errorf("%w: no candle in day window for %s", domain.ErrPriceUnavailable, symbol)
	}
	return found, nil
}

// LastOfDayAfter returns the last candle within [cutoff, dayEnd). Used for
// the closing-auction reference price: the final print at or after the
// close-auction start.
func (c *CandleCache) LastOfDayAfter(symbol string, cutoff, dayEnd time.Time) (Candle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tree, ok := c.symbols[symbol]
	if !ok || tree.Len() == 0 {
		return Candle{}, fmt.Errorf("%w: no candles cached for %s", domain.ErrPriceUnavailable, symbol)
	}

	pivot := Candle{TimeUnixM: dayEnd.UnixMicro() - 1}
	var found Candle
	var hit bool
	tree.DescendLessOrEqual(pivot, func(item Candle) bool {
		if item.TimeUnixM < cutoff.UnixMicro() {
			return false
		}
		found = item
		hit = true
		return false
	})
	if !hit {
		return Candle{}, fmt.Errorf("%w: no closing candle for %s", domain.ErrPriceUnavailable, symbol)
	}
	return found, nil
}

// Len returns the number of cached candles for symbol.
func (c *CandleCache) Len(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tree, ok := c.symbols[symbol]; ok {
		return tree.Len()
	}
	return 0
}
