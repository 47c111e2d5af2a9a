package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/dbretry"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// LiveStatusModel handles database operations for durable liveness records.
type LiveStatusModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewLiveStatus creates a new live status model.
func NewLiveStatus(db *bun.DB, logger *zap.Logger) *LiveStatusModel {
	return &LiveStatusModel{
		db:     db,
		logger: logger.Named("db_live_status"),
	}
}

// Get returns the live status of a user.
func (m *LiveStatusModel) Get(ctx context.Context, userID string) (*types.LiveStatus, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.LiveStatus, error) {
		var status types.LiveStatus

		err := m.db.NewSelect().
			Model(&status).
			Where("user_id = ?", userID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("no live status for user %s", userID)
			}

			return nil, fmt.Errorf("failed to get live status: %w", err)
		}

		return &status, nil
	})
}

// GetMany returns the live statuses of the given users keyed by user id.
func (m *LiveStatusModel) GetMany(ctx context.Context, userIDs []string) (map[string]*types.LiveStatus, error) {
	if len(userIDs) == 0 {
		return map[string]*types.LiveStatus{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[string]*types.LiveStatus, error) {
		var statuses []*types.LiveStatus

		err := m.db.NewSelect().
			Model(&statuses).
			Where("user_id IN (?)", bun.In(userIDs)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get live statuses: %w", err)
		}

		result := make(map[string]*types.LiveStatus, len(statuses))
		for _, status := range statuses {
			result[status.UserID] = status
		}

		return result, nil
	})
}

// SetLive marks a user live, creating the record on first use.
// LastActive never moves backwards.
func (m *LiveStatusModel) SetLive(ctx context.Context, userID string, at time.Time) (*types.LiveStatus, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.LiveStatus, error) {
		status := types.NewLiveStatus(userID)
		status.IsLive = true
		status.LastActive = &at
		status.UpdatedAt = at

		_, err := m.db.NewInsert().
			Model(status).
			On("CONFLICT (user_id) DO UPDATE").
			Set("is_live = TRUE").
			Set("last_active = GREATEST(ls.last_active, EXCLUDED.last_active)").
			Set("updated_at = EXCLUDED.updated_at").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to set user live: %w", err)
		}

		m.logger.Debug("User went live", zap.String("userID", userID))

		return status, nil
	})
}

// SetOffline marks a user offline. Returns apperr.ErrNotFound if the user never went live.
func (m *LiveStatusModel) SetOffline(ctx context.Context, userID string, at time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		result, err := m.db.NewUpdate().
			Model((*types.LiveStatus)(nil)).
			Set("is_live = FALSE").
			Set("updated_at = ?", at).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set user offline: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}

		if affected == 0 {
			return apperr.NotFound("no live status for user %s", userID)
		}

		m.logger.Debug("User went offline", zap.String("userID", userID))

		return nil
	})
}

// UpdateSettings applies a partial settings update, creating the record with
// defaults if needed. IsLive is not handled here.
func (m *LiveStatusModel) UpdateSettings(
	ctx context.Context, userID string, update *types.SettingsUpdate, at time.Time,
) (*types.LiveStatus, error) {
	var status types.LiveStatus

	err := dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		defaults := types.NewLiveStatus(userID)
		defaults.UpdatedAt = at

		if _, err := tx.NewInsert().
			Model(defaults).
			On("CONFLICT (user_id) DO NOTHING").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create live status: %w", err)
		}

		query := tx.NewUpdate().
			Model(&status).
			Set("updated_at = ?", at).
			Where("user_id = ?", userID).
			Returning("*")

		if update.ShareTrack != nil {
			query = query.Set("share_track = ?", *update.ShareTrack)
		}

		if update.AllowFind != nil {
			query = query.Set("allow_find = ?", *update.AllowFind)
		}

		if update.RadiusKm != nil {
			query = query.Set("radius_km = ?", *update.RadiusKm)
		}

		if _, err := query.Exec(ctx); err != nil {
			return fmt.Errorf("failed to update live settings: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("Updated live settings", zap.String("userID", userID))

	return &status, nil
}

// TouchLastActive advances last_active of a live user. Older timestamps are ignored.
func (m *LiveStatusModel) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.LiveStatus)(nil)).
			Set("last_active = ?", at).
			Set("updated_at = ?", at).
			Where("user_id = ?", userID).
			Where("is_live").
			WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
				return q.Where("last_active IS NULL").WhereOr("last_active < ?", at)
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to touch last active: %w", err)
		}

		return nil
	})
}

// GetStale returns live users whose last activity is older than cutoff, oldest first.
func (m *LiveStatusModel) GetStale(ctx context.Context, cutoff time.Time, limit int) ([]*types.LiveStatus, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.LiveStatus, error) {
		var statuses []*types.LiveStatus

		err := m.db.NewSelect().
			Model(&statuses).
			Where("is_live").
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("last_active IS NULL").WhereOr("last_active < ?", cutoff)
			}).
			Order("last_active ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get stale live users: %w", err)
		}

		return statuses, nil
	})
}

// FlipStale marks a user offline only if it is still live and still stale at cutoff.
// A heartbeat that landed after the scan wins.
func (m *LiveStatusModel) FlipStale(ctx context.Context, userID string, cutoff, at time.Time) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := m.db.NewUpdate().
			Model((*types.LiveStatus)(nil)).
			Set("is_live = FALSE").
			Set("updated_at = ?", at).
			Where("user_id = ?", userID).
			Where("is_live").
			WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
				return q.Where("last_active IS NULL").WhereOr("last_active < ?", cutoff)
			}).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to flip stale user: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return affected > 0, nil
	})
}
