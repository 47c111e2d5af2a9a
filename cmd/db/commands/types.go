package commands

import (
	"errors"

	"github.com/robalyx/resonance/internal/database"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

var (
	ErrNameRequired = errors.New("NAME argument required")
	ErrInvalidFlag  = errors.New("invalid flag")

	ErrConfirmationRequired = errors.New("destructive command requires --yes")
)

// CLIDependencies holds the common dependencies needed by CLI commands.
type CLIDependencies struct {
	DB       database.Client
	Migrator *migrate.Migrator
	Logger   *zap.Logger
}
