package setup

import (
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/resonance/internal/worker/core"
	"github.com/robalyx/resonance/internal/worker/findsweep"
	"github.com/robalyx/resonance/internal/worker/reaper"
)

// ErrUnknownWorker is returned for a worker name nothing is registered under.
var ErrUnknownWorker = errors.New("unknown worker")

// WorkerNames lists every background worker in start order.
var WorkerNames = []string{reaper.Name, findsweep.Name}

// NewWorkerRunners builds a runner for each named worker. Every runner shares
// one metrics set on the app registry and reports its own status.
func NewWorkerRunners(app *App, services *Services, names ...string) ([]*core.Runner, error) {
	metrics := core.NewMetrics(app.Metrics)
	runners := make([]*core.Runner, 0, len(names))

	for _, name := range names {
		logger := app.LogManager.GetWorkerLogger(name)
		reporter := core.NewStatusReporter(app.StatusClient, name, logger)

		switch name {
		case reaper.Name:
			w := reaper.New(services.Presence, logger)
			runners = append(runners, w.NewRunner(app.runnerConfig(app.Config.Common.Presence.ReapInterval), reporter, metrics))
		case findsweep.Name:
			w := findsweep.New(services.Find, logger)
			runners = append(runners, w.NewRunner(app.runnerConfig(app.Config.Common.Find.SweepInterval), reporter, metrics))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, name)
		}
	}

	return runners, nil
}

func (s *App) runnerConfig(interval time.Duration) core.RunnerConfig {
	return core.RunnerConfig{
		Interval:     interval,
		Timeout:      s.Config.Worker.CycleTimeout,
		StartupDelay: s.Config.Worker.StartupDelay,
	}
}
