package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pricefinder/pricefinder/internal/chat"
	"github.com/pricefinder/pricefinder/internal/identity"
	"github.com/pricefinder/pricefinder/internal/product"
	"github.com/pricefinder/pricefinder/internal/session"
)

const statusCheckTimeout = 5 * time.Second

type chatRequest struct {
	Message string `json:"message"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type turnResponse struct {
	Outcome *chat.TurnOutcome `json:"outcome"`
	Session session.View      `json:"session"`
}

// RegisterRoutes registers the front-end API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/config", h.GetConfig)
		r.Get("/status", h.GetStatus)
		r.Get("/session", h.GetSession)
		r.Post("/session/clear", h.ClearSession)
		r.Post("/chat", h.Chat)
		r.Post("/search", h.Search)
		r.Post("/history/{index}", h.ReplayHistory)
		r.Post("/quick/{index}", h.QuickSearch)
		r.Get("/products/compare", h.CompareProducts)
		r.Get("/products/summary", h.SummarizeProducts)
	})
}

// entry resolves the caller's session, writing an error response on failure.
func (h *Handler) entry(w http.ResponseWriter, r *http.Request) (*session.Entry, bool) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	e, err := h.registry.Get(r.Context(), clientID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "client_id", clientID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return e, true
}

// turnError maps controller errors to HTTP responses.
func turnError(w http.ResponseWriter, err error, clientID string) {
	switch {
	case errors.Is(err, session.ErrTurnInProgress):
		Error(w, http.StatusConflict, "turn_in_progress")
	case errors.Is(err, chat.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, chat.ErrIndexOutOfRange):
		Error(w, http.StatusBadRequest, "index out of range")
	default:
		slog.Error("Chat turn failed", "error", err, "client_id", clientID)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid index")
		return 0, false
	}
	return idx, true
}

// turnContext detaches a turn from the request so a client disconnect does
// not cancel an agent call mid-flight. The bridge timeout still applies.
func turnContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// GetSession returns the caller's session snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session": session.NewView(e.Snapshot()),
		"phase":   h.controller.Phase(e.ClientID()),
	})
}

// ClearSession hard-resets the caller's session.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	e, err := h.registry.Reset(turnContext(r), clientID)
	if err != nil {
		if errors.Is(err, session.ErrTurnInProgress) {
			Error(w, http.StatusConflict, "turn_in_progress")
			return
		}
		// The in-memory reset happened; only persistence failed.
		slog.Warn("Failed to persist cleared session", "error", err, "client_id", clientID)
		if e == nil {
			Error(w, http.StatusInternalServerError, "failed to clear session")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session": session.NewView(e.Snapshot()),
	})
}

// Chat runs one free-text turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	out, err := h.controller.Send(turnContext(r), e, req.Message)
	if err != nil {
		turnError(w, err, e.ClientID())
		return
	}
	JSON(w, http.StatusOK, turnResponse{Outcome: out, Session: session.NewView(e.Snapshot())})
}

// Search runs a product search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	out, err := h.controller.Search(turnContext(r), e, req.Query)
	if err != nil {
		turnError(w, err, e.ClientID())
		return
	}
	JSON(w, http.StatusOK, turnResponse{Outcome: out, Session: session.NewView(e.Snapshot())})
}

// ReplayHistory re-sends a recent search.
func (h *Handler) ReplayHistory(w http.ResponseWriter, r *http.Request) {
	idx, ok := indexParam(w, r)
	if !ok {
		return
	}
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	out, err := h.controller.Replay(turnContext(r), e, idx)
	if err != nil {
		turnError(w, err, e.ClientID())
		return
	}
	JSON(w, http.StatusOK, turnResponse{Outcome: out, Session: session.NewView(e.Snapshot())})
}

// QuickSearch appends a configured quick-search query.
func (h *Handler) QuickSearch(w http.ResponseWriter, r *http.Request) {
	idx, ok := indexParam(w, r)
	if !ok {
		return
	}
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	query, err := h.controller.QuickSearch(turnContext(r), e, idx)
	if err != nil {
		turnError(w, err, e.ClientID())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"session": session.NewView(e.Snapshot()),
	})
}

// CompareProducts returns the price comparison of the current products.
func (h *Handler) CompareProducts(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"rows": product.Compare(e.Snapshot().CurrentProducts),
	})
}

// SummarizeProducts returns aggregate figures for the current products.
func (h *Handler) SummarizeProducts(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, product.Summarize(e.Snapshot().CurrentProducts))
}

// GetConfig returns the UI strings and quick searches for the front end.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.controller.UI())
}

// GetStatus reports agent reachability and the caller's session counters.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}

	agentStatus := map[string]interface{}{"healthy": false}
	if h.agent != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statusCheckTimeout)
		res := h.agent.HealthCheck(ctx)
		cancel()
		agentStatus["healthy"] = !res.Failed()
		if res.Failed() {
			agentStatus["error"] = res.Error
		} else {
			agentStatus["status"] = res.Status
		}
	}

	rec := e.Snapshot()
	JSON(w, http.StatusOK, map[string]interface{}{
		"agent":              agentStatus,
		"session_id_prefix":  prefix(rec.SessionID, 8),
		"message_count":      len(rec.Messages),
		"history_count":      len(rec.SearchHistory),
		"product_count":      len(rec.CurrentProducts),
		"phase":              h.controller.Phase(e.ClientID()),
		"sessions_in_memory": h.registry.Len(),
	})
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if h.repo == nil {
		checks["database"] = "disabled"
	} else if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
