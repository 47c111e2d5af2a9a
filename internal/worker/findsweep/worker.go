// Package findsweep expires Find sessions that stopped receiving updates.
package findsweep

import (
	"context"

	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/worker/core"
	"go.uber.org/zap"
)

// Name identifies the worker in logs, metrics and status keys.
const Name = "findsweep"

// Expirer expires idle sessions.
type Expirer interface {
	ExpireIdle(ctx context.Context) ([]*types.FindSession, error)
}

// Worker runs the idle session sweep.
type Worker struct {
	expirer Expirer
	logger  *zap.Logger
}

// New creates a new find sweep worker.
func New(expirer Expirer, logger *zap.Logger) *Worker {
	return &Worker{
		expirer: expirer,
		logger:  logger.Named("findsweep_worker"),
	}
}

// Cycle expires one batch of idle sessions and returns how many were expired.
func (w *Worker) Cycle(ctx context.Context) (int, error) {
	expired, err := w.expirer.ExpireIdle(ctx)
	if err != nil {
		return 0, err
	}

	for _, session := range expired {
		w.logger.Debug("Expired idle find session",
			zap.String("sessionID", session.ID.String()),
			zap.String("seekerID", session.SeekerID),
			zap.String("targetID", session.TargetID))
	}

	if len(expired) > 0 {
		w.logger.Info("Expired idle find sessions", zap.Int("count", len(expired)))
	}

	return len(expired), nil
}

// NewRunner schedules the worker's cycle.
func (w *Worker) NewRunner(
	config core.RunnerConfig, reporter *core.StatusReporter, metrics *core.Metrics,
) *core.Runner {
	return core.NewRunner(Name, w.Cycle, config, reporter, metrics, w.logger)
}
