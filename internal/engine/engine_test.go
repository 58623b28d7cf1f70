package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/session"
	"stocklab_go/pkg/quant"
)

// Shared fakes for the engine tests.

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) set(t time.Time) { c.t = t }

type fakeQuotes struct {
	latest    map[string]quant.PriceMicros
	opening   map[string]quant.PriceMicros // keyed by symbol + "|" + date
	closing   map[string]quant.PriceMicros
	latestErr error
	onLatest  func(symbol string) // runs before each Latest lookup
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{
		latest:  make(map[string]quant.PriceMicros),
		opening: make(map[string]quant.PriceMicros),
		closing: make(map[string]quant.PriceMicros),
	}
}

func dayKey(symbol string, date time.Time) string {
	return symbol + "|" + date.Format("2006-01-02")
}

func (q *fakeQuotes) Latest(_ context.Context, symbol string) (quant.PriceMicros, error) {
	if q.onLatest != nil {
		q.onLatest(symbol)
	}
	if q.latestErr != nil {
		return 0, q.latestErr
	}
	if p, ok := q.latest[symbol]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: no quote for %s", domain.ErrPriceUnavailable, symbol)
}

func (q *fakeQuotes) OpeningPrice(_ context.Context, symbol string, date time.Time) (quant.PriceMicros, error) {
	if p, ok := q.opening[dayKey(symbol, date)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: no opening price", domain.ErrPriceUnavailable)
}

func (q *fakeQuotes) ClosingPrice(_ context.Context, symbol string, date time.Time) (quant.PriceMicros, error) {
	if p, ok := q.closing[dayKey(symbol, date)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: no closing price", domain.ErrPriceUnavailable)
}

type memStore struct {
	orders     map[string]*domain.Order
	portfolios map[string]*domain.Portfolio
	failSaves  int // SaveOrder fails this many times
}

func newMemStore() *memStore {
	return &memStore{
		orders:     make(map[string]*domain.Order),
		portfolios: make(map[string]*domain.Portfolio),
	}
}

func (s *memStore) SaveOrder(_ context.Context, o *domain.Order) error {
	if s.failSaves > 0 {
		s.failSaves--
		return fmt.Errorf("save order %s: disk I/O error", o.ID)
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *memStore) LoadOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) LoadOpenOrders(_ context.Context) ([]*domain.Order, error) {
	var open []*domain.Order
	for _, o := range s.orders {
		if o.IsOpen() {
			cp := *o
			open = append(open, &cp)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedUnixM < open[j].CreatedUnixM })
	return open, nil
}

func (s *memStore) ListOrders(_ context.Context) ([]*domain.Order, error) {
	var all []*domain.Order
	for _, o := range s.orders {
		cp := *o
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedUnixM > all[j].CreatedUnixM })
	return all, nil
}

func (s *memStore) SavePortfolio(_ context.Context, p *domain.Portfolio) error {
	s.portfolios[p.UserID] = p
	return nil
}

func (s *memStore) LoadPortfolio(_ context.Context, userID string) (*domain.Portfolio, error) {
	p, ok := s.portfolios[userID]
	if !ok {
		return nil, fmt.Errorf("portfolio %s not found", userID)
	}
	return p, nil
}

// Test fixture helpers.

var ict = time.FixedZone("ICT", 7*3600)

// 2025-06-02 is a Monday.
func tradingTime(hour, min int) time.Time {
	return time.Date(2025, 6, 2, hour, min, 0, 0, ict)
}

func cash(units int64) quant.CashMicros {
	return quant.CashMicros(units * quant.PriceScale)
}

func price(units float64) quant.PriceMicros {
	return quant.ToPriceMicros(units)
}

type fixture struct {
	ledger *Ledger
	quotes *fakeQuotes
	store  *memStore
	clock  *fakeClock
	router *Router
	sched  *Scheduler
}

func newFixture(t *testing.T, startingCash quant.CashMicros, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		ledger: NewLedger(domain.NewPortfolio("trader", startingCash)),
		quotes: newFakeQuotes(),
		store:  newMemStore(),
		clock:  &fakeClock{t: now},
	}
	cal := session.NewCalendar()
	log := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	f.router = NewRouter(f.ledger, f.quotes, f.store, cal, f.clock, log)
	f.sched = NewScheduler(f.ledger, f.quotes, f.store, cal, f.clock, log)
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
