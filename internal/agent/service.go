package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pricefinder/pricefinder/internal/domain"
)

// PriceFinderAgent is the placeholder shopping agent. It acknowledges
// messages and reports that search is not implemented yet.
type PriceFinderAgent struct {
	logger *slog.Logger
}

// NewPriceFinderAgent creates the placeholder agent.
func NewPriceFinderAgent(logger *slog.Logger) *PriceFinderAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceFinderAgent{logger: logger}
}

// ProcessMessage echoes the message back in a canned reply.
func (a *PriceFinderAgent) ProcessMessage(ctx context.Context, message, sessionID string) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.logger.Debug("Processing message", "session_id", sessionID, "message_length", len(message))
	return &ChatResponse{
		Response:  fmt.Sprintf("메시지 '%s' 처리 중... (구현 예정)", message),
		SessionID: sessionID,
	}, nil
}

// SearchProducts returns no products and a canned message naming the query.
func (a *PriceFinderAgent) SearchProducts(ctx context.Context, query string) (*SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.logger.Debug("Searching products", "query", query)
	return &SearchResponse{
		Products: []domain.Product{},
		Message:  fmt.Sprintf("'%s' 상품 검색 기능 구현 예정", query),
	}, nil
}
