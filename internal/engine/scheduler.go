package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/session"
	"stocklab_go/pkg/quant"
)

// Scheduler runs the two background passes that move waiting orders:
// auction resolution for QUEUED ATO/ATC orders, and the pending refresh
// that fills queued market orders and marketable resting limits once the
// session trades. Each pass holds its own non-reentrant guard so a slow
// cycle is skipped rather than stacked.
type Scheduler struct {
	ledger *Ledger
	quotes Quotes
	store  Store
	cal    *session.Calendar
	clock  Clock
	log    *slog.Logger

	AuctionInterval time.Duration
	PendingInterval time.Duration

	auctionGuard sync.Mutex
	pendingGuard sync.Mutex

	// unsaved holds fills the ledger applied but the store rejected, keyed
	// by order id. They are retried instead of re-applied: the stored row
	// still says the order is open, but the portfolio already moved.
	unsavedMu sync.Mutex
	unsaved   map[string]*domain.Order
}

// NewScheduler wires the scheduler. A nil clock means wall time.
func NewScheduler(ledger *Ledger, quotes Quotes, store Store, cal *session.Calendar, clock Clock, log *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		ledger:          ledger,
		quotes:          quotes,
		store:           store,
		cal:             cal,
		clock:           clock,
		log:             log,
		AuctionInterval: 30 * time.Second,
		PendingInterval: 5 * time.Second,
		unsaved:         make(map[string]*domain.Order),
	}
}

// Run drives both passes until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	auctionTicker := time.NewTicker(s.AuctionInterval)
	pendingTicker := time.NewTicker(s.PendingInterval)
	defer auctionTicker.Stop()
	defer pendingTicker.Stop()

	s.log.Info("scheduler started",
		"auction_interval", s.AuctionInterval, "pending_interval", s.PendingInterval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-auctionTicker.C:
			s.ResolveAuctions(ctx)
		case <-pendingTicker.C:
			s.RefreshPending(ctx)
		}
	}
}

// ResolveAuctions fills QUEUED auction orders whose trigger auction has
// resolved. A missing reference price leaves the order QUEUED for the next
// pass; it is never rejected for a feed gap. Returns the number of fills.
func (s *Scheduler) ResolveAuctions(ctx context.Context) int {
	if !s.auctionGuard.TryLock() {
		s.log.Debug("auction pass already in flight, skipping")
		return 0
	}
	defer s.auctionGuard.Unlock()

	open, err := s.store.LoadOpenOrders(ctx)
	if err != nil {
		s.log.Error("load open orders failed", "err", err)
		return 0
	}

	now := s.clock.Now()
	filled := 0
	for _, o := range open {
		if o.Status != domain.StatusQueued || !o.Type.IsAuction() {
			continue
		}
		price, due, err := s.auctionPrice(ctx, o, now)
		if !due {
			continue
		}
		if err != nil {
			s.log.Warn("auction reference price unavailable",
				"order_id", o.ID, "symbol", o.Symbol, "type", o.Type, "err", err)
			continue
		}
		if s.fill(ctx, o, price, now) {
			filled++
		}
	}
	return filled
}

// auctionPrice returns the reference price for an auction order, and whether
// the auction has resolved yet at now.
func (s *Scheduler) auctionPrice(ctx context.Context, o *domain.Order, now time.Time) (quant.PriceMicros, bool, error) {
	switch o.Type {
	case domain.TypeATO:
		if now.Before(s.cal.OpenAuctionResolvedAt(o.TriggerDate)) {
			return 0, false, nil
		}
		price, err := s.quotes.OpeningPrice(ctx, o.Symbol, o.TriggerDate)
		return price, true, err
	case domain.TypeATC:
		if now.Before(s.cal.CloseAuctionResolvedAt(o.TriggerDate)) {
			return 0, false, nil
		}
		price, err := s.quotes.ClosingPrice(ctx, o.Symbol, o.TriggerDate)
		return price, true, err
	}
	return 0, false, nil
}

// RefreshPending fills QUEUED market orders once a session is trading, and
// resting LIMIT orders whose limit has become marketable. Limit fills execute
// at the limit price, not the last price. Returns the number of fills.
func (s *Scheduler) RefreshPending(ctx context.Context) int {
	if !s.pendingGuard.TryLock() {
		s.log.Debug("pending pass already in flight, skipping")
		return 0
	}
	defer s.pendingGuard.Unlock()

	now := s.clock.Now()
	if s.cal.PhaseAt(now) != session.PhaseContinuous {
		return 0
	}

	open, err := s.store.LoadOpenOrders(ctx)
	if err != nil {
		s.log.Error("load open orders failed", "err", err)
		return 0
	}

	filled := 0
	for _, o := range open {
		if o.Type.IsAuction() {
			continue
		}

		last, err := s.quotes.Latest(ctx, o.Symbol)
		if err != nil {
			s.log.Warn("no quote for waiting order", "order_id", o.ID, "symbol", o.Symbol, "err", err)
			continue
		}

		switch {
		case o.Status == domain.StatusQueued:
			// Market order submitted outside trading hours.
			if s.fill(ctx, o, last, now) {
				filled++
			}
		case o.Status == domain.StatusPending && o.Type == domain.TypeLimit:
			if limitMarketable(o.Side, last, o.LimitPriceMicros) {
				if s.fill(ctx, o, o.LimitPriceMicros, now) {
					filled++
				}
			}
		}
	}
	return filled
}

// fill applies and persists one fill. The open set was loaded at pass start,
// so the stored row is re-read first: a cancel that landed since must win,
// and an earlier fill whose persist failed must not be applied twice.
// Sufficiency failures leave the order waiting: the balance may recover when
// another order cancels or sells.
func (s *Scheduler) fill(ctx context.Context, o *domain.Order, price quant.PriceMicros, now time.Time) bool {
	if s.retryUnsaved(ctx, o.ID) {
		return false
	}

	cur, err := s.store.LoadOrder(ctx, o.ID)
	if err != nil {
		s.log.Error("reload order failed", "order_id", o.ID, "err", err)
		return false
	}
	if !cur.IsOpen() {
		return false
	}

	result, err := s.ledger.ApplyFill(cur, price, now)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrInsufficientPosition) {
			s.log.Warn("fill skipped, insufficient balance", "order_id", cur.ID, "err", err)
		} else {
			s.log.Error("fill failed", "order_id", cur.ID, "err", err)
		}
		return false
	}

	if err := s.store.SaveOrder(ctx, cur); err != nil {
		s.log.Error("persist filled order failed", "order_id", cur.ID, "err", err)
		s.unsavedMu.Lock()
		s.unsaved[cur.ID] = cur
		s.unsavedMu.Unlock()
	}
	if err := s.store.SavePortfolio(ctx, s.ledger.Snapshot()); err != nil {
		s.log.Error("persist portfolio failed", "err", err)
	}

	s.log.Info("order filled",
		"order_id", cur.ID, "symbol", cur.Symbol, "side", cur.Side, "type", cur.Type,
		"qty", result.Qty, "price", result.PriceMicros, "realized", result.RealizedMicros)
	return true
}

// retryUnsaved re-attempts persisting a fill the store rejected on an earlier
// pass. Reports whether the order was such a fill; the ledger already holds
// its effect, so the caller must not fill it again.
func (s *Scheduler) retryUnsaved(ctx context.Context, id string) bool {
	s.unsavedMu.Lock()
	o, ok := s.unsaved[id]
	s.unsavedMu.Unlock()
	if !ok {
		return false
	}

	if err := s.store.SaveOrder(ctx, o); err != nil {
		s.log.Error("persist filled order failed", "order_id", o.ID, "err", err)
		return true
	}
	if err := s.store.SavePortfolio(ctx, s.ledger.Snapshot()); err != nil {
		s.log.Error("persist portfolio failed", "err", err)
	}

	s.unsavedMu.Lock()
	delete(s.unsaved, id)
	s.unsavedMu.Unlock()
	s.log.Info("order fill persisted on retry", "order_id", o.ID)
	return true
}
