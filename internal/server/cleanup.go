package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/rjsadow/passage/internal/db"
	"github.com/rjsadow/passage/internal/metrics"
)

// DefaultCleanupInterval is how often expired rows are purged.
const DefaultCleanupInterval = 10 * time.Minute

// RunCleanup deletes expired sessions, verification tokens and OAuth states
// every interval until ctx is done.
func RunCleanup(ctx context.Context, database *db.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupOnce(ctx, database)
		}
	}
}

func cleanupOnce(ctx context.Context, database *db.DB) int64 {
	n, err := database.CleanupExpired(ctx)
	if err != nil {
		slog.Error("Failed to clean up expired rows", "error", err)
		return 0
	}
	if n > 0 {
		metrics.RecordExpiredRowsRemoved(n)
		slog.Info("Removed expired rows", "count", n)
	}
	return n
}
