package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/dbretry"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// LocationModel handles database operations for location snapshots.
type LocationModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewLocation creates a new location model.
func NewLocation(db *bun.DB, logger *zap.Logger) *LocationModel {
	return &LocationModel{
		db:     db,
		logger: logger.Named("db_location"),
	}
}

// Upsert stores the latest snapshot of a user.
func (m *LocationModel) Upsert(ctx context.Context, snapshot *types.LocationSnapshot) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(snapshot).
			On("CONFLICT (user_id) DO UPDATE").
			Set("geohash = EXCLUDED.geohash").
			Set("precision_level = EXCLUDED.precision_level").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert location snapshot: %w", err)
		}

		m.logger.Debug("Upserted location snapshot",
			zap.String("userID", snapshot.UserID),
			zap.Int("precision", snapshot.PrecisionLevel))

		return nil
	})
}

// Get returns the snapshot of a user.
func (m *LocationModel) Get(ctx context.Context, userID string) (*types.LocationSnapshot, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.LocationSnapshot, error) {
		var snapshot types.LocationSnapshot

		err := m.db.NewSelect().
			Model(&snapshot).
			Where("user_id = ?", userID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("no location for user %s", userID)
			}

			return nil, fmt.Errorf("failed to get location snapshot: %w", err)
		}

		return &snapshot, nil
	})
}

// Delete removes the snapshot of a user.
func (m *LocationModel) Delete(ctx context.Context, userID string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewDelete().
			Model((*types.LocationSnapshot)(nil)).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete location snapshot: %w", err)
		}

		return nil
	})
}
