package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/infra"
	"stocklab_go/pkg/quant"
)

// ohlcResponse is the wire shape of the historical-price service. Prices are
// decimal strings in thousands of VND; parsed exactly, never through float64.
type ohlcResponse struct {
	Data []struct {
		Time   string `json:"time"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"close"`
		Volume int64  `json:"volume"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Client fetches candles over HTTP with retry, rate limiting and a circuit
// breaker. Implements PriceFeed.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *infra.CircuitBreaker
	limiter    *infra.RateLimiter
}

// NewClient creates a feed client for the given base URL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("price-feed")),
		limiter:    infra.NewRateLimiter(10, 5.0),
	}
}

// Candles implements PriceFeed.
func (c *Client) Candles(ctx context.Context, symbol string, from, to time.Time, interval string) ([]Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("start_time", from.Format(time.RFC3339))
	q.Set("end_time", to.Format(time.RFC3339))

	body, err := c.get(ctx, "/ohlc/historical?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp ohlcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed feed response: %v", domain.ErrPriceUnavailable, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: feed error: %s", domain.ErrPriceUnavailable, resp.Error)
	}

	candles := make([]Candle, 0, len(resp.Data))
	for _, d := range resp.Data {
		ts, err := time.Parse(time.RFC3339, d.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: bad candle time %q", domain.ErrPriceUnavailable, d.Time)
		}
		candle := Candle{TimeUnixM: ts.UnixMicro(), Volume: d.Volume}
		if candle.OpenMicros, err = parsePrice(d.Open); err != nil {
			return nil, err
		}
		if candle.HighMicros, err = parsePrice(d.High); err != nil {
			return nil, err
		}
		if candle.LowMicros, err = parsePrice(d.Low); err != nil {
			return nil, err
		}
		if candle.CloseMicros, err = parsePrice(d.Close); err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// LatestPrice implements PriceFeed: the close of the most recent candle.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (quant.PriceMicros, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "1m")
	q.Set("limit", "1")

	body, err := c.get(ctx, "/ohlc/latest?"+q.Encode())
	if err != nil {
		return 0, err
	}

	var resp ohlcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: malformed feed response: %v", domain.ErrPriceUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("%w: no candles for %s", domain.ErrPriceUnavailable, symbol)
	}
	return parsePrice(resp.Data[len(resp.Data)-1].Close)
}

// get performs a GET with rate limiting, circuit breaking and bounded retry.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: feed circuit open", domain.ErrPriceUnavailable)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := infra.CalculateBackoff(attempt - 1)
			slog.Debug("retrying feed request", slog.String("path", path), slog.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		c.limiter.Wait()

		body, err := c.doRequest(ctx, path)
		if err == nil {
			c.breaker.RecordSuccess()
			return body, nil
		}
		lastErr = err
	}

	c.breaker.RecordFailure()
	return nil, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// parsePrice converts a decimal wire string to micros exactly.
func parsePrice(s string) (quant.PriceMicros, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad price %q", domain.ErrPriceUnavailable, s)
	}
	return quant.PriceMicros(d.Shift(6).IntPart()), nil
}
