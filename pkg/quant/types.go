package quant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PriceMicros represents a price in the feed's native unit multiplied by
// 1,000,000 (10^6). The feed quotes Vietnamese stocks in thousands of VND,
// so 23.55 on the wire = 23,550,000 PriceMicros. Display scaling to whole
// VND happens only at the presentation boundary.
type PriceMicros int64

// CashMicros represents a cash amount in the same unit as PriceMicros.
type CashMicros int64

// Qty represents a whole number of shares.
type Qty int64

const PriceScale = 1_000_000

// ToPriceMicros converts a float64 (from an external API) to PriceMicros.
// Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

func (p PriceMicros) String() string {
	return fmt.Sprintf("%.3f", float64(p)/PriceScale)
}

func (c CashMicros) String() string {
	return fmt.Sprintf("%.3f", float64(c)/PriceScale)
}

// ParsePriceMicros parses a numeric string into PriceMicros without going
// through float64. Rule #1: No Float on the money path.
func ParsePriceMicros(s string) (PriceMicros, error) {
	v, err := parseFixedPoint(s, 6)
	return PriceMicros(v), err
}

// parseFixedPoint parses a decimal string into an int64 scaled by 10^precision.
// E.g. parseFixedPoint("23.55", 6) -> 23,550,000.
func parseFixedPoint(s string, precision int) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric string")
	}

	intStr, fracStr := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intStr, fracStr = s[:i], s[i+1:]
	}

	intPart, err := strconv.ParseInt(intStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric string %q: %w", s, err)
	}
	for i := 0; i < precision; i++ {
		intPart *= 10
	}

	if fracStr == "" {
		return intPart, nil
	}
	if len(fracStr) > precision {
		fracStr = fracStr[:precision]
	}
	fracPart, err := strconv.ParseInt(fracStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fraction in %q: %w", s, err)
	}
	for i := len(fracStr); i < precision; i++ {
		fracPart *= 10
	}

	if strings.HasPrefix(intStr, "-") {
		return intPart - fracPart, nil
	}
	return intPart + fracPart, nil
}

// ToVND converts an internal cash amount to whole VND for display.
// The feed unit is thousands of VND, hence the x1000.
func (c CashMicros) ToVND() int64 {
	return int64(c) * 1000 / PriceScale
}
