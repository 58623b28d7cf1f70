// Package server exposes the order engine and the challenge mode over HTTP.
// Internal amounts are micros of the feed unit (thousands of VND); every
// response converts to whole VND here and nowhere else.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/engine"
	"stocklab_go/pkg/quant"
)

// Server wires the HTTP handlers to the order router and the challenge
// controller.
type Server struct {
	orders    *engine.Router
	challenge *ChallengeHandler
	log       *slog.Logger
}

// New creates the server. challenge may be nil to disable challenge routes.
func New(orders *engine.Router, challenge *ChallengeHandler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orders: orders, challenge: challenge, log: log}
}

// Handler builds the chi router with all routes and middleware registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogging(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", s.submitOrder)
		r.Get("/orders", s.listOrders)
		r.Delete("/orders/{order_id}", s.cancelOrder)
		r.Get("/portfolio/summary", s.portfolioSummary)

		if s.challenge != nil {
			s.challenge.register(r)
		}
	})

	return r
}

// submitOrderRequest is the JSON body for POST /api/orders. The limit price
// is a decimal string in the feed unit (thousands of VND), parsed without a
// float round trip.
type submitOrderRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Qty        int64  `json:"qty"`
	LimitPrice string `json:"limit_price,omitempty"`
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var limit quant.PriceMicros
	if req.LimitPrice != "" {
		p, err := quant.ParsePriceMicros(req.LimitPrice)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit_price must be a decimal number")
			return
		}
		limit = p
	}

	order, err := s.orders.Submit(r.Context(), engine.OrderRequest{
		Symbol:           req.Symbol,
		Side:             domain.Side(req.Side),
		Type:             domain.OrderType(req.Type),
		Qty:              quant.Qty(req.Qty),
		LimitPriceMicros: limit,
	})
	if err != nil {
		mapDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.Orders(r.Context())
	if err != nil {
		mapDomainError(w, err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Cancel(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

func (s *Server) portfolioSummary(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, buildSummaryResponse(s.orders.Summary(r.Context())))
}

// orderResponse is one order with VND amounts.
type orderResponse struct {
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Qty         int64  `json:"qty"`
	Status      string `json:"status"`
	LimitVND    int64  `json:"limit_price_vnd,omitempty"`
	FilledVND   int64  `json:"filled_price_vnd,omitempty"`
	FilledQty   int64  `json:"filled_qty,omitempty"`
	BlockedVND  int64  `json:"blocked_vnd,omitempty"`
	CreatedAt   string `json:"created_at"`
	FilledAt    string `json:"filled_at,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`
	TriggerDate string `json:"trigger_date,omitempty"`
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Type:       string(o.Type),
		Qty:        int64(o.Qty),
		Status:     string(o.Status),
		LimitVND:   priceVND(o.LimitPriceMicros),
		FilledVND:  priceVND(o.FilledPriceMicros),
		FilledQty:  int64(o.FilledQty),
		BlockedVND: o.BlockedMicros.ToVND(),
		CreatedAt:  stamp(o.CreatedUnixM),
	}
	if o.FilledUnixM != 0 {
		resp.FilledAt = stamp(o.FilledUnixM)
	}
	if o.CancelledUnixM != 0 {
		resp.CancelledAt = stamp(o.CancelledUnixM)
	}
	if !o.TriggerDate.IsZero() {
		resp.TriggerDate = o.TriggerDate.Format("2006-01-02")
	}
	return resp
}

// summaryResponse is the portfolio view with VND amounts.
type summaryResponse struct {
	CashVND    int64              `json:"cash_vnd"`
	BlockedVND int64              `json:"blocked_vnd"`
	TotalVND   int64              `json:"total_value_vnd"`
	Positions  []positionResponse `json:"positions"`
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           int64  `json:"qty"`
	AvgCostVND    int64  `json:"avg_cost_vnd"`
	MarkVND       int64  `json:"mark_vnd"`
	MarketVND     int64  `json:"market_value_vnd"`
	UnrealizedVND int64  `json:"unrealized_pnl_vnd"`
}

func buildSummaryResponse(s engine.Summary) summaryResponse {
	resp := summaryResponse{
		CashVND:    s.CashMicros.ToVND(),
		BlockedVND: s.BlockedMicros.ToVND(),
		TotalVND:   s.TotalMicros.ToVND(),
		Positions:  make([]positionResponse, len(s.Positions)),
	}
	for i, p := range s.Positions {
		resp.Positions[i] = positionResponse{
			Symbol:        p.Symbol,
			Qty:           int64(p.Qty),
			AvgCostVND:    priceVND(p.AvgCostMicros),
			MarkVND:       priceVND(p.MarkMicros),
			MarketVND:     p.MarketMicros.ToVND(),
			UnrealizedVND: p.UnrealizedMicros.ToVND(),
		}
	}
	return resp
}

// priceVND converts a feed-unit price to whole VND. The feed unit is
// thousands of VND.
func priceVND(p quant.PriceMicros) int64 {
	return quant.CashMicros(p).ToVND()
}

func stamp(unixMicros int64) string {
	return time.UnixMicro(unixMicros).UTC().Format(time.RFC3339)
}

// mapDomainError maps engine errors to HTTP responses.
func mapDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Reason)
		return
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotCancellable):
		WriteError(w, http.StatusConflict, "order_not_cancellable", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusConflict, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrInsufficientPosition):
		WriteError(w, http.StatusConflict, "insufficient_position", err.Error())
	case errors.Is(err, domain.ErrSessionClosed):
		WriteError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, domain.ErrSessionEnded):
		WriteError(w, http.StatusConflict, "challenge_ended", err.Error())
	case errors.Is(err, domain.ErrPriceUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "price_unavailable", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

// requestLogging logs each request's method, path, status, and duration.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
