// Package agent implements the PriceFinder agent API.
package agent

import (
	"github.com/pricefinder/pricefinder/internal/domain"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the reply to a chat message.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResponse carries the products found for a query.
type SearchResponse struct {
	Products []domain.Product `json:"products"`
	Message  string           `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
