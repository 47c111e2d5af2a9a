package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/robalyx/resonance/cmd/db/commands"
	"github.com/robalyx/resonance/internal/database"
	"github.com/robalyx/resonance/internal/database/migrations"
	"github.com/robalyx/resonance/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	deps := &commands.CLIDependencies{}

	app := &cli.Command{
		Name:  "db",
		Usage: "Database management tool",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config files to load instead of the default search paths",
			},
		},
		Commands: append(commands.MigrationCommands(deps), commands.PruneCommands(deps)...),
	}

	// Connect once the flags are parsed
	for _, cmd := range app.Commands {
		action := cmd.Action
		cmd.Action = func(ctx context.Context, c *cli.Command) error {
			if err := setupDependencies(ctx, c.StringSlice("config"), deps); err != nil {
				return err
			}
			defer deps.DB.Close()

			return action(ctx, c)
		}
	}

	return app.Run(context.Background(), os.Args)
}

// setupDependencies connects to the database and creates the migrator.
func setupDependencies(ctx context.Context, files []string, deps *commands.CLIDependencies) error {
	var (
		cfg *config.Config
		err error
	)

	if len(files) > 0 {
		cfg, err = config.LoadFromFiles(files...)
	} else {
		cfg, _, err = config.LoadConfig()
	}

	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, logger, false)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	deps.DB = db
	deps.Migrator = migrate.NewMigrator(db.DB(), migrations.Migrations)
	deps.Logger = logger

	return nil
}
