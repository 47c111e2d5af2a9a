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

// ProfileModel reads user profiles owned by the profile system.
type ProfileModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewProfile creates a new profile model.
func NewProfile(db *bun.DB, logger *zap.Logger) *ProfileModel {
	return &ProfileModel{
		db:     db,
		logger: logger.Named("db_profile"),
	}
}

// GetProfile returns the profile of a user.
func (m *ProfileModel) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Profile, error) {
		var profile types.Profile

		err := m.db.NewSelect().
			Model(&profile).
			Where("user_id = ?", userID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("no profile for user %s", userID)
			}

			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		return &profile, nil
	})
}
