package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/session"
	"stocklab_go/pkg/quant"
	"stocklab_go/pkg/safe"
)

// Clock abstracts time so tests and the challenge mode can drive the engine
// with a virtual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Quotes is the price source the router and scheduler consult. Transient
// failures surface as domain.ErrPriceUnavailable.
type Quotes interface {
	// Latest returns the most recent known price for symbol.
	Latest(ctx context.Context, symbol string) (quant.PriceMicros, error)

	// OpeningPrice returns the first traded price of the given trading date,
	// the opening-auction reference.
	OpeningPrice(ctx context.Context, symbol string, date time.Time) (quant.PriceMicros, error)

	// ClosingPrice returns the final traded price of the given trading date,
	// the closing-auction reference.
	ClosingPrice(ctx context.Context, symbol string, date time.Time) (quant.PriceMicros, error)
}

// Store persists orders and portfolios.
type Store interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	LoadOrder(ctx context.Context, id string) (*domain.Order, error)
	LoadOpenOrders(ctx context.Context) ([]*domain.Order, error)
	ListOrders(ctx context.Context) ([]*domain.Order, error)
	SavePortfolio(ctx context.Context, p *domain.Portfolio) error
	LoadPortfolio(ctx context.Context, userID string) (*domain.Portfolio, error)
}

// OrderRequest is a submit request before validation.
type OrderRequest struct {
	Symbol           string            `json:"symbol"`
	Side             domain.Side       `json:"side"`
	Type             domain.OrderType  `json:"type"`
	Qty              quant.Qty         `json:"qty"`
	LimitPriceMicros quant.PriceMicros `json:"limit_price,omitempty"`
}

// Router validates incoming orders, fills the immediately fillable ones
// through the ledger, and queues the rest for the scheduler.
type Router struct {
	ledger *Ledger
	quotes Quotes
	store  Store
	cal    *session.Calendar
	clock  Clock
	log    *slog.Logger
}

// NewRouter wires the router. A nil clock means wall time.
func NewRouter(ledger *Ledger, quotes Quotes, store Store, cal *session.Calendar, clock Clock, log *slog.Logger) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{ledger: ledger, quotes: quotes, store: store, cal: cal, clock: clock, log: log}
}

// Submit validates and routes an order. MARKET and MTL fill immediately
// during continuous trading; a marketable LIMIT fills at its limit price;
// a non-marketable LIMIT rests PENDING. ATO/ATC queue for their trigger
// date's auction. Outside trading hours MARKET orders queue with cash
// blocked at the latest reference price.
func (r *Router) Submit(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	o := &domain.Order{
		ID:               uuid.NewString(),
		Symbol:           req.Symbol,
		Side:             req.Side,
		Type:             req.Type,
		Qty:              req.Qty,
		LimitPriceMicros: req.LimitPriceMicros,
		Status:           domain.StatusPending,
		CreatedUnixM:     now.UnixMicro(),
	}

	var err error
	if req.Type.IsAuction() {
		err = r.routeAuction(ctx, o, now)
	} else {
		err = r.routeContinuous(ctx, o, now)
	}
	if err != nil {
		return nil, err
	}

	if err := r.persist(ctx, o); err != nil {
		return nil, err
	}
	r.log.Info("order routed",
		"order_id", o.ID, "symbol", o.Symbol, "side", o.Side,
		"type", o.Type, "qty", o.Qty, "status", o.Status)
	return o, nil
}

func validateRequest(req OrderRequest) error {
	if req.Symbol == "" {
		return domain.Validation("symbol is required")
	}
	if !req.Side.Valid() {
		return domain.Validation("side must be BUY or SELL")
	}
	if !req.Type.Valid() {
		return domain.Validation("unknown order type")
	}
	if req.Qty <= 0 {
		return domain.Validation("qty must be positive")
	}
	if req.Type == domain.TypeLimit && req.LimitPriceMicros <= 0 {
		return domain.Validation("limit order requires a positive limit price")
	}
	if req.Type != domain.TypeLimit && req.LimitPriceMicros != 0 {
		return domain.Validation("only limit orders carry a limit price")
	}
	return nil
}

// routeAuction queues an ATO/ATC order for its trigger date. ATO is accepted
// only while that day's opening auction has not resolved; once it has, an ATO
// for the same day is meaningless and the order is rejected. ATC is accepted
// until the day's closing auction resolves; afterwards it rolls to the next
// trading day.
func (r *Router) routeAuction(ctx context.Context, o *domain.Order, now time.Time) error {
	trading := r.cal.IsTradingDay(now)

	switch o.Type {
	case domain.TypeATO:
		switch {
		case trading && now.Before(r.cal.OpenAuctionResolvedAt(now)):
			o.TriggerDate = dateOf(now, r.cal)
		case trading && now.Before(r.cal.SessionClose(now)):
			return fmt.Errorf("%w: opening auction already resolved", domain.ErrSessionClosed)
		default:
			o.TriggerDate = dateOf(r.cal.NextTradingDay(now), r.cal)
		}
	case domain.TypeATC:
		if trading && now.Before(r.cal.CloseAuctionResolvedAt(now)) {
			o.TriggerDate = dateOf(now, r.cal)
		} else {
			o.TriggerDate = dateOf(r.cal.NextTradingDay(now), r.cal)
		}
	}

	if err := r.reserve(ctx, o); err != nil {
		return err
	}
	o.Status = domain.StatusQueued
	return nil
}

func (r *Router) routeContinuous(ctx context.Context, o *domain.Order, now time.Time) error {
	live := r.cal.PhaseAt(now) == session.PhaseContinuous

	if o.Type == domain.TypeLimit {
		return r.routeLimit(ctx, o, now, live)
	}

	// MARKET and MTL. MTL has no resting leg in a single-trader book, so it
	// degrades to MARKET.
	if !live {
		if err := r.reserve(ctx, o); err != nil {
			return err
		}
		o.Status = domain.StatusQueued
		return nil
	}

	last, err := r.quotes.Latest(ctx, o.Symbol)
	if err != nil {
		return err
	}
	if err := r.checkSufficiency(o, last); err != nil {
		return err
	}
	_, err = r.ledger.ApplyFill(o, last, now)
	return err
}

func (r *Router) routeLimit(ctx context.Context, o *domain.Order, now time.Time, live bool) error {
	if live {
		last, err := r.quotes.Latest(ctx, o.Symbol)
		if err == nil && limitMarketable(o.Side, last, o.LimitPriceMicros) {
			if err := r.checkSufficiency(o, o.LimitPriceMicros); err != nil {
				return err
			}
			_, err = r.ledger.ApplyFill(o, o.LimitPriceMicros, now)
			return err
		}
		if err != nil {
			r.log.Warn("no quote for limit check, resting order", "symbol", o.Symbol, "err", err)
		}
	}

	// Rest until the refresh poll sees the limit become marketable.
	if o.Side == domain.SideBuy {
		cost := quant.CashMicros(safe.Mul(int64(o.LimitPriceMicros), int64(o.Qty)))
		if err := r.ledger.BlockForOrder(o, cost); err != nil {
			return err
		}
	} else if r.ledger.PositionQty(o.Symbol) < o.Qty {
		return fmt.Errorf("%w: selling %d of %s", domain.ErrInsufficientPosition, o.Qty, o.Symbol)
	}
	o.Status = domain.StatusPending
	return nil
}

// limitMarketable reports whether a limit order would execute against the
// last price: buys when the market is at or below the limit, sells at or
// above.
func limitMarketable(side domain.Side, last, limit quant.PriceMicros) bool {
	if side == domain.SideBuy {
		return last <= limit
	}
	return last >= limit
}

// reserve blocks cash for a waiting BUY at the latest reference price, or
// checks the position for a waiting SELL.
func (r *Router) reserve(ctx context.Context, o *domain.Order) error {
	if o.Side == domain.SideSell {
		if r.ledger.PositionQty(o.Symbol) < o.Qty {
			return fmt.Errorf("%w: selling %d of %s", domain.ErrInsufficientPosition, o.Qty, o.Symbol)
		}
		return nil
	}

	ref, err := r.quotes.Latest(ctx, o.Symbol)
	if err != nil {
		return err
	}
	cost := quant.CashMicros(safe.Mul(int64(ref), int64(o.Qty)))
	return r.ledger.BlockForOrder(o, cost)
}

func (r *Router) checkSufficiency(o *domain.Order, price quant.PriceMicros) error {
	if o.Side == domain.SideBuy {
		cost := quant.CashMicros(safe.Mul(int64(price), int64(o.Qty)))
		if cost > r.ledger.AvailableCash() {
			return fmt.Errorf("%w: need %d, available %d",
				domain.ErrInsufficientFunds, cost, r.ledger.AvailableCash())
		}
		return nil
	}
	if r.ledger.PositionQty(o.Symbol) < o.Qty {
		return fmt.Errorf("%w: selling %d of %s", domain.ErrInsufficientPosition, o.Qty, o.Symbol)
	}
	return nil
}

// Cancel cancels a waiting order and releases its cash reservation.
// Terminal orders are not cancellable.
func (r *Router) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := r.store.LoadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotCancellable, o.ID, o.Status)
	}

	r.ledger.ReleaseOrder(o)
	o.Status = domain.StatusCancelled
	o.CancelledUnixM = r.clock.Now().UnixMicro()

	if err := r.persist(ctx, o); err != nil {
		return nil, err
	}
	r.log.Info("order cancelled", "order_id", o.ID)
	return o, nil
}

// Orders lists all orders, newest first.
func (r *Router) Orders(ctx context.Context) ([]*domain.Order, error) {
	return r.store.ListOrders(ctx)
}

// Summary values the live portfolio at the latest quotes for its positions.
func (r *Router) Summary(ctx context.Context) Summary {
	snap := r.ledger.Snapshot()
	marks := make(map[string]quant.PriceMicros, len(snap.Positions))
	for sym := range snap.Positions {
		if price, err := r.quotes.Latest(ctx, sym); err == nil {
			marks[sym] = price
		}
	}
	return r.ledger.Summary(marks)
}

func (r *Router) persist(ctx context.Context, o *domain.Order) error {
	if err := r.store.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	if err := r.store.SavePortfolio(ctx, r.ledger.Snapshot()); err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	return nil
}

// dateOf truncates t to midnight in the exchange timezone.
func dateOf(t time.Time, cal *session.Calendar) time.Time {
	loc := cal.Location()
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}
