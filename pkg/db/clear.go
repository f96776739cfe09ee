package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearFailures deletes journal entries older than olderThan; zero deletes
// everything. Schema is preserved.
func ClearFailures(ctx context.Context, pool *pgxpool.Pool, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		slog.Info(fmt.Sprintf("%s - Clearing all dispatch failures", clearLogPrefix))
		tag, err := pool.Exec(ctx, `DELETE FROM dispatch_failures`)
		if err != nil {
			return 0, fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
		}
		return tag.RowsAffected(), nil
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	slog.Info(fmt.Sprintf("%s - Clearing dispatch failures before %s", clearLogPrefix, cutoff.Format(time.RFC3339)))
	tag, err := pool.Exec(ctx, `DELETE FROM dispatch_failures WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}
