package agent

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pricefinder/pricefinder/internal/api"
	"github.com/pricefinder/pricefinder/internal/config"
	"github.com/pricefinder/pricefinder/internal/identity"
)

// Handler serves the agent API over HTTP.
type Handler struct {
	agent       Processor
	rateLimiter *RateLimiter
}

// RateLimiter implements a sliding-window limiter keyed by caller.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := pruneBefore(r.requests[key], now.Add(-r.window))

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction runs a background goroutine that periodically removes expired
// keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				fresh := pruneBefore(times, cutoff)
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	var fresh []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// NewHandler creates an agent API handler. cfg may be nil for defaults.
func NewHandler(processor Processor, cfg *config.Config) *Handler {
	rateLimitRequests := 30
	rateLimitWindow := time.Minute
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		agent:       processor,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
	}
}

// RegisterRoutes registers the agent API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	r.Post("/chat", h.HandleChat)
	r.Post("/search", h.HandleSearch)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// HandleRoot handles GET /.
func (h *Handler) HandleRoot(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"message": "PriceFinder Agent API"})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// HandleChat handles POST /chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	key := req.SessionID
	if key == "" {
		key = identity.IPFromRequest(r)
	}
	if !h.rateLimiter.Allow(key) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	slog.Info("Agent chat request",
		"session_id", req.SessionID,
		"message_length", len(req.Message),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	resp, err := h.agent.ProcessMessage(r.Context(), req.Message, req.SessionID)
	if err != nil {
		slog.Error("Agent failed to process message", "session_id", req.SessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleSearch handles POST /search requests.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	slog.Info("Agent search request", "query", req.Query, "request_id", chiMiddleware.GetReqID(r.Context()))

	resp, err := h.agent.SearchProducts(r.Context(), req.Query)
	if err != nil {
		slog.Error("Agent failed to search products", "query", req.Query, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to search products")
		return
	}
	api.JSON(w, http.StatusOK, resp)
}
