package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartMaintenance removes expired magic-link tokens and activity logs older
// than retention on every tick until ctx is cancelled.
func StartMaintenance(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				res, err := db.ExecContext(ctx, `DELETE FROM login_tokens WHERE expires_at < $1`, now)
				if err != nil {
					log.Error("failed to purge expired login tokens", zap.Error(err))
				} else if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("purged expired login tokens", zap.Int64("removed", rows))
				}

				res, err = db.ExecContext(ctx, `DELETE FROM activity_logs WHERE timestamp < $1`, now.Add(-retention))
				if err != nil {
					log.Error("failed to prune activity logs", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("pruned activity logs", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
