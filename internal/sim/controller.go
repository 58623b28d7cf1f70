package sim

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/engine"
	"stocklab_go/internal/feed"
	"stocklab_go/internal/session"
	"stocklab_go/pkg/quant"
)

// Config describes one practice challenge.
type Config struct {
	Symbol               string
	InitialCapitalMicros quant.CashMicros
	Start                time.Time
	End                  time.Time
}

// Report is the result of a finished challenge.
type Report struct {
	FinalValueMicros quant.CashMicros `json:"final_value"`
	PnLMicros        quant.CashMicros `json:"pnl"`
	PnLPercent       float64          `json:"pnl_percent"`
	EndedAt          time.Time        `json:"ended_at"`
}

// Controller runs one challenge: an isolated ledger funded with the
// configured capital, a virtual clock, and fills taken from the candle
// cache. It never touches the live portfolio or the live feed. Advancing is
// fail-closed: if the cache has no price at the jump target, the clock does
// not move.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	clock  *VirtualClock
	ledger *engine.Ledger
	cache  *feed.CandleCache
	orders []*domain.Order
	ended  bool
	log    *slog.Logger
}

// NewController starts a challenge.
func NewController(cfg Config, cache *feed.CandleCache, cal *session.Calendar, log *slog.Logger) (*Controller, error) {
	if cfg.Symbol == "" {
		return nil, domain.Validation("challenge symbol is required")
	}
	if cfg.InitialCapitalMicros <= 0 {
		return nil, domain.Validation("challenge capital must be positive")
	}
	if !cfg.End.After(cfg.Start) {
		return nil, domain.Validation("challenge end must follow start")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		cfg:    cfg,
		clock:  NewVirtualClock(cfg.Start, cfg.End, cal),
		ledger: engine.NewLedger(domain.NewPortfolio("challenge", cfg.InitialCapitalMicros)),
		cache:  cache,
		log:    log,
	}
	log.Info("challenge started",
		"symbol", cfg.Symbol, "capital", cfg.InitialCapitalMicros,
		"from", c.clock.Now(), "to", cfg.End)
	return c, nil
}

// Now returns the current virtual instant.
func (c *Controller) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Now()
}

// Advance jumps the virtual clock. The jump only happens when the cache can
// price the challenge symbol at the target instant; otherwise the clock
// stays put and the caller sees ErrPriceUnavailable.
func (c *Controller) Advance(step Step) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return time.Time{}, domain.ErrSessionEnded
	}
	target, err := c.clock.Peek(step)
	if err != nil {
		return time.Time{}, err
	}
	if _, err := c.cache.PriceAt(c.cfg.Symbol, target); err != nil {
		return time.Time{}, fmt.Errorf("cannot advance to %s: %w", target, err)
	}
	return c.clock.Advance(step)
}

// Submit fills an order immediately and in full at the last cached price.
// The declared order type is recorded but does not change execution; the
// challenge book has a single participant and no queue to rest in.
func (c *Controller) Submit(req engine.OrderRequest) (*domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return nil, domain.ErrSessionEnded
	}
	if req.Symbol != c.cfg.Symbol {
		return nil, domain.Validation("challenge trades a single symbol")
	}
	if !req.Side.Valid() {
		return nil, domain.Validation("side must be BUY or SELL")
	}
	if !req.Type.Valid() {
		return nil, domain.Validation("unknown order type")
	}
	if req.Qty <= 0 {
		return nil, domain.Validation("qty must be positive")
	}

	now := c.clock.Now()
	price, err := c.cache.PriceAt(req.Symbol, now)
	if err != nil {
		return nil, err
	}

	o := &domain.Order{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Qty:          req.Qty,
		Status:       domain.StatusPending,
		CreatedUnixM: now.UnixMicro(),
	}
	if _, err := c.ledger.ApplyFill(o, price, now); err != nil {
		return nil, err
	}
	c.orders = append(c.orders, o)

	c.log.Info("challenge fill",
		"order_id", o.ID, "side", o.Side, "qty", o.Qty, "price", price, "at", now)
	return o, nil
}

// Orders returns the challenge's fills, oldest first.
func (c *Controller) Orders() []*domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Order, len(c.orders))
	copy(out, c.orders)
	return out
}

// Summary values the challenge portfolio at the current virtual instant.
func (c *Controller) Summary() engine.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Summary(c.marks(c.clock.Now()))
}

// End closes the challenge, marking positions at the last price at or before
// the end instant, and discards the ledger. Idempotent calls after the first
// return ErrSessionEnded.
func (c *Controller) End() (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return Report{}, domain.ErrSessionEnded
	}
	c.ended = true

	final := c.ledger.Summary(c.marks(c.cfg.End))
	pnl := quant.CashMicros(int64(final.TotalMicros) - int64(c.cfg.InitialCapitalMicros))
	report := Report{
		FinalValueMicros: final.TotalMicros,
		PnLMicros:        pnl,
		PnLPercent:       float64(pnl) / float64(c.cfg.InitialCapitalMicros) * 100,
		EndedAt:          c.clock.Now(),
	}
	c.log.Info("challenge ended",
		"final", report.FinalValueMicros, "pnl", report.PnLMicros,
		"pnl_pct", report.PnLPercent)
	return report, nil
}

func (c *Controller) marks(at time.Time) map[string]quant.PriceMicros {
	marks := make(map[string]quant.PriceMicros, 1)
	if price, err := c.cache.PriceAt(c.cfg.Symbol, at); err == nil {
		marks[c.cfg.Symbol] = price
	}
	return marks
}
