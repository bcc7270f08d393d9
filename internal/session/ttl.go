package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/pricefinder/pricefinder/internal/store"
)

const ttlWorkerInterval = 5 * time.Minute

// StartTTLWorker runs a background goroutine that periodically removes
// sessions idle longer than ttl from memory and from the repository.
func StartTTLWorker(ctx context.Context, repo store.Repository, reg *Registry, ttl time.Duration) {
	startTTLWorker(ctx, repo, reg, ttl, ttlWorkerInterval)
}

func startTTLWorker(ctx context.Context, repo store.Repository, reg *Registry, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpiredSessions(ctx, repo, reg, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpiredSessions(ctx context.Context, repo store.Repository, reg *Registry, ttl time.Duration) {
	evicted := reg.EvictIdle(ttl)
	if len(evicted) > 0 {
		slog.Info("TTL worker evicted idle sessions from memory", "count", len(evicted))
	}

	if repo == nil {
		return
	}

	expired, err := repo.GetExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired sessions", "error", err)
		return
	}

	for _, clientID := range expired {
		// A stale row can belong to a live entry whose saves failed; memory
		// wins and the next save rewrites the row.
		if !reg.EvictIfIdle(clientID, ttl) {
			slog.Warn("TTL worker kept active session with stale row", "client_id", clientID)
		}
		if err := repo.DeleteSession(ctx, clientID); err != nil {
			slog.Warn("TTL worker failed to delete session", "error", err, "client_id", clientID)
		}
	}

	// Sweep rows that expired between the listing and the deletes above.
	swept, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Warn("TTL worker sweep failed", "error", err)
	}
	if len(expired) > 0 || swept > 0 {
		slog.Info("TTL worker cleanup completed", "cleaned", len(expired), "swept", swept)
	}
}
