// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/pricefinder/pricefinder/internal/domain"
)

// Repository defines the interface for persisting chat sessions.
type Repository interface {
	// GetSession retrieves the session owned by a client. It returns nil
	// without an error when the client has no stored session.
	GetSession(ctx context.Context, clientID string) (*domain.SessionRecord, error)

	// UpsertSession creates or replaces the stored session for rec.ClientID.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// DeleteSession removes the stored session for a client.
	DeleteSession(ctx context.Context, clientID string) error

	// GetExpiredSessions lists clients whose sessions have not been updated within ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// CleanupExpiredSessions removes sessions older than ttl and returns how many were removed.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
