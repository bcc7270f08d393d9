package agent

import (
	"context"
)

// Processor answers chat messages and product searches.
// PriceFinderAgent is the built-in implementation.
type Processor interface {
	// ProcessMessage replies to a user utterance within a session.
	ProcessMessage(ctx context.Context, message, sessionID string) (*ChatResponse, error)

	// SearchProducts looks up products for a query.
	SearchProducts(ctx context.Context, query string) (*SearchResponse, error)
}

// Ensure PriceFinderAgent implements Processor.
var _ Processor = (*PriceFinderAgent)(nil)
