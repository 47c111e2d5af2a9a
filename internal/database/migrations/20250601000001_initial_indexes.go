package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/resonance/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Reaper scans live users ordered by last activity
			CREATE INDEX IF NOT EXISTS idx_live_statuses_live_last_active
			ON live_statuses (is_live, last_active ASC);

			-- At most one active session per ordered pair
			CREATE UNIQUE INDEX IF NOT EXISTS idx_find_sessions_active_pair
			ON find_sessions (seeker_id, target_id)
			WHERE status = ?;

			CREATE INDEX IF NOT EXISTS idx_find_sessions_status_updated
			ON find_sessions (status, updated_at ASC);

			CREATE INDEX IF NOT EXISTS idx_find_sessions_target_status
			ON find_sessions (target_id, status);

			CREATE INDEX IF NOT EXISTS idx_listening_events_user_time
			ON listening_events (user_id, played_at DESC);

			CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
			ON notifications (user_id, created_at DESC)
			WHERE read_at IS NULL;
		`, types.FindStatusActive).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_live_statuses_live_last_active;
			DROP INDEX IF EXISTS idx_find_sessions_active_pair;
			DROP INDEX IF EXISTS idx_find_sessions_status_updated;
			DROP INDEX IF EXISTS idx_find_sessions_target_status;
			DROP INDEX IF EXISTS idx_listening_events_user_time;
			DROP INDEX IF EXISTS idx_notifications_user_unread;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
