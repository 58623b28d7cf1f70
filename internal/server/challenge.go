package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"stocklab_go/internal/domain"
	"stocklab_go/internal/engine"
	"stocklab_go/internal/feed"
	"stocklab_go/internal/session"
	"stocklab_go/internal/sim"
	"stocklab_go/pkg/quant"
)

// ChallengeHandler manages one active practice challenge at a time.
type ChallengeHandler struct {
	cache          *feed.CandleCache
	cal            *session.Calendar
	defaultCapital quant.CashMicros

	mu     sync.Mutex
	active *sim.Controller
}

// NewChallengeHandler creates the challenge route handler.
func NewChallengeHandler(cache *feed.CandleCache, cal *session.Calendar, defaultCapital quant.CashMicros) *ChallengeHandler {
	return &ChallengeHandler{cache: cache, cal: cal, defaultCapital: defaultCapital}
}

func (h *ChallengeHandler) register(r chi.Router) {
	r.Post("/challenge", h.start)
	r.Post("/challenge/advance", h.advance)
	r.Post("/challenge/orders", h.submit)
	r.Get("/challenge/summary", h.summary)
	r.Post("/challenge/end", h.end)
}

type startChallengeRequest struct {
	Symbol            string `json:"symbol"`
	Start             string `json:"start"` // RFC 3339
	End               string `json:"end"`
	InitialCapitalVND int64  `json:"initial_capital_vnd,omitempty"`
}

func (h *ChallengeHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startChallengeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "start must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "end must be RFC 3339")
		return
	}

	capital := h.defaultCapital
	if req.InitialCapitalVND > 0 {
		// Whole VND to micros of the feed unit (thousands of VND).
		capital = quant.CashMicros(req.InitialCapitalVND * quant.PriceScale / 1000)
	}

	ctrl, err := sim.NewController(sim.Config{
		Symbol:               req.Symbol,
		InitialCapitalMicros: capital,
		Start:                start,
		End:                  end,
	}, h.cache, h.cal, nil)
	if err != nil {
		mapDomainError(w, err)
		return
	}

	h.mu.Lock()
	h.active = ctrl
	h.mu.Unlock()

	WriteJSON(w, http.StatusCreated, map[string]any{
		"symbol":      req.Symbol,
		"capital_vnd": capital.ToVND(),
		"now":         ctrl.Now().Format(time.RFC3339),
	})
}

func (h *ChallengeHandler) controller() *sim.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

type advanceRequest struct {
	Step string `json:"step"`
}

func (h *ChallengeHandler) advance(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller()
	if ctrl == nil {
		WriteError(w, http.StatusNotFound, "no_challenge", "no active challenge")
		return
	}

	var req advanceRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	now, err := ctrl.Advance(sim.Step(req.Step))
	if err != nil {
		mapDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"now": now.Format(time.RFC3339)})
}

type challengeOrderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Qty    int64  `json:"qty"`
}

func (h *ChallengeHandler) submit(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller()
	if ctrl == nil {
		WriteError(w, http.StatusNotFound, "no_challenge", "no active challenge")
		return
	}

	var req challengeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := ctrl.Submit(engine.OrderRequest{
		Symbol: req.Symbol,
		Side:   domain.Side(req.Side),
		Type:   domain.OrderType(req.Type),
		Qty:    quant.Qty(req.Qty),
	})
	if err != nil {
		mapDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

func (h *ChallengeHandler) summary(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller()
	if ctrl == nil {
		WriteError(w, http.StatusNotFound, "no_challenge", "no active challenge")
		return
	}
	resp := buildSummaryResponse(ctrl.Summary())
	WriteJSON(w, http.StatusOK, map[string]any{
		"now":       ctrl.Now().Format(time.RFC3339),
		"portfolio": resp,
	})
}

func (h *ChallengeHandler) end(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller()
	if ctrl == nil {
		WriteError(w, http.StatusNotFound, "no_challenge", "no active challenge")
		return
	}

	report, err := ctrl.End()
	if err != nil {
		mapDomainError(w, err)
		return
	}

	h.mu.Lock()
	h.active = nil
	h.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]any{
		"final_value_vnd": report.FinalValueMicros.ToVND(),
		"pnl_vnd":         report.PnLMicros.ToVND(),
		"pnl_percent":     report.PnLPercent,
		"ended_at":        report.EndedAt.Format(time.RFC3339),
	})
}
