// Package reaper flips users that stopped sending heartbeats offline.
package reaper

import (
	"context"

	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/worker/core"
	"go.uber.org/zap"
)

// Name identifies the worker in logs, metrics and status keys.
const Name = "reaper"

// Reaper is the presence reconciliation the worker drives.
type Reaper interface {
	Reap(ctx context.Context) (*presence.ReapResult, error)
}

// Worker runs the presence reaper.
type Worker struct {
	reaper Reaper
	logger *zap.Logger
}

// New creates a new reaper worker.
func New(reaper Reaper, logger *zap.Logger) *Worker {
	return &Worker{
		reaper: reaper,
		logger: logger.Named("reaper_worker"),
	}
}

// Cycle runs one reaper pass and returns the number of users flipped offline.
func (w *Worker) Cycle(ctx context.Context) (int, error) {
	result, err := w.reaper.Reap(ctx)
	if err != nil {
		return 0, err
	}

	if len(result.Flipped) > 0 || result.Failed > 0 {
		w.logger.Info("Reaped stale users",
			zap.Int("scanned", result.Scanned),
			zap.Int("flipped", len(result.Flipped)),
			zap.Int("yielded", result.Yielded),
			zap.Int("failed", result.Failed),
			zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	}

	return len(result.Flipped), nil
}

// NewRunner schedules the worker's cycle.
func (w *Worker) NewRunner(
	config core.RunnerConfig, reporter *core.StatusReporter, metrics *core.Metrics,
) *core.Runner {
	return core.NewRunner(Name, w.Cycle, config, reporter, metrics, w.logger)
}
