package models

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/database/dbretry"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// NotificationModel stores notifications for later delivery.
type NotificationModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewNotification creates a new notification model.
func NewNotification(db *bun.DB, logger *zap.Logger) *NotificationModel {
	return &NotificationModel{
		db:     db,
		logger: logger.Named("db_notification"),
	}
}

// Deliver stores a notification for the user.
func (m *NotificationModel) Deliver(ctx context.Context, notification *types.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(notification).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to deliver notification: %w", err)
		}

		m.logger.Debug("Delivered notification",
			zap.String("userID", notification.UserID),
			zap.String("kind", string(notification.Kind)))

		return nil
	})
}

// PurgeRead deletes notifications read before cutoff.
func (m *NotificationModel) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		result, err := m.db.NewDelete().
			Model((*types.Notification)(nil)).
			Where("read_at IS NOT NULL").
			Where("read_at < ?", cutoff).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to purge read notifications: %w", err)
		}

		affected, _ := result.RowsAffected()

		return affected, nil
	})
}
