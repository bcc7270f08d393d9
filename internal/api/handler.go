// Package api provides HTTP handlers for the PriceFinder front end.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pricefinder/pricefinder/internal/bridge"
	"github.com/pricefinder/pricefinder/internal/chat"
	"github.com/pricefinder/pricefinder/internal/session"
	"github.com/pricefinder/pricefinder/internal/store"
)

// MaxRequestBodySize caps JSON request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// HealthChecker probes the agent API.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bridge.Result
}

// Handler provides common handler utilities.
type Handler struct {
	repo       store.Repository
	registry   *session.Registry
	controller *chat.Controller
	agent      HealthChecker
}

// NewHandler creates a new Handler with common dependencies. repo may be nil
// for a memory-only deployment.
func NewHandler(repo store.Repository, registry *session.Registry, controller *chat.Controller, agent HealthChecker) *Handler {
	return &Handler{
		repo:       repo,
		registry:   registry,
		controller: controller,
		agent:      agent,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON reads a size-limited JSON body into v. On failure it writes the
// error response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
