package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/resonance/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.Profile)(nil),
			(*types.LiveStatus)(nil),
			(*types.LocationSnapshot)(nil),
			(*types.FindSession)(nil),
			(*types.ListeningEvent)(nil),
			(*types.Notification)(nil),
		}

		for _, model := range models {
			_, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table %T: %w", model, err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.Notification)(nil),
			(*types.ListeningEvent)(nil),
			(*types.FindSession)(nil),
			(*types.LocationSnapshot)(nil),
			(*types.LiveStatus)(nil),
			(*types.Profile)(nil),
		}

		for _, model := range models {
			_, err := db.NewDropTable().
				Model(model).
				IfExists().
				Cascade().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to drop table %T: %w", model, err)
			}
		}

		return nil
	})
}
