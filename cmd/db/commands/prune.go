package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// PruneCommands returns the data retention commands.
func PruneCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "prune",
			Usage: "Delete ended Find sessions and read notifications older than the retention window",
			Description: `Removes rows that no longer affect live behavior.
ACTIVE sessions and unread notifications are never touched.

Examples:
  db prune                 # Keep the last 30 days
  db prune --older-than 72h
  db prune --dry-run`,
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  "older-than",
					Usage: "Retention window",
					Value: 30 * 24 * time.Hour,
				},
				&cli.BoolFlag{
					Name:  "dry-run",
					Usage: "Print the cutoff without deleting anything",
				},
			},
			Action: handlePrune(deps),
		},
	}
}

// handlePrune handles the 'prune' command.
func handlePrune(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		retention := c.Duration("older-than")
		if retention <= 0 {
			return fmt.Errorf("%w: --older-than must be positive", ErrInvalidFlag)
		}

		cutoff := time.Now().Add(-retention)

		if c.Bool("dry-run") {
			deps.Logger.Info("Dry run, nothing deleted", zap.Time("cutoff", cutoff))
			return nil
		}

		models := deps.DB.Model()

		sessions, err := models.FindSessions().PurgeEnded(ctx, cutoff)
		if err != nil {
			return err
		}

		notifications, err := models.Notifications().PurgeRead(ctx, cutoff)
		if err != nil {
			return err
		}

		deps.Logger.Info("Pruned old rows",
			zap.Time("cutoff", cutoff),
			zap.Int64("findSessions", sessions),
			zap.Int64("notifications", notifications))

		return nil
	}
}
