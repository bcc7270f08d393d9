package session

import (
	"time"

	"github.com/pricefinder/pricefinder/internal/domain"
)

// RecentSearchLimit is how many history entries the front end offers for replay.
const RecentSearchLimit = 5

// View is the client-facing form of a session.
type View struct {
	SessionID       string               `json:"session_id"`
	Messages        []domain.ChatMessage `json:"messages"`
	SearchHistory   []string             `json:"search_history"`
	RecentSearches  []string             `json:"recent_searches"`
	CurrentProducts []domain.Product     `json:"current_products"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// NewView builds the client-facing form of rec.
func NewView(rec *domain.SessionRecord) View {
	v := View{
		SessionID:       rec.SessionID,
		Messages:        rec.Messages,
		SearchHistory:   rec.SearchHistory,
		RecentSearches:  make([]string, 0, RecentSearchLimit),
		CurrentProducts: rec.CurrentProducts,
		UpdatedAt:       rec.UpdatedAt,
	}
	for i := len(rec.SearchHistory) - 1; i >= 0 && len(v.RecentSearches) < RecentSearchLimit; i-- {
		v.RecentSearches = append(v.RecentSearches, rec.SearchHistory[i])
	}
	return v
}
