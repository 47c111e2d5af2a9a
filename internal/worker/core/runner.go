package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cycle runs one pass of a worker and returns how many items it changed.
type Cycle func(ctx context.Context) (int, error)

// RunnerConfig controls scheduling of a worker.
type RunnerConfig struct {
	Interval     time.Duration
	Timeout      time.Duration // Per cycle. Zero means no limit.
	StartupDelay time.Duration
}

// Runner schedules a cycle with cron. At most one cycle runs at a time in a
// process; a tick that arrives while a cycle is running is skipped.
type Runner struct {
	name     string
	cycle    Cycle
	config   RunnerConfig
	reporter *StatusReporter
	metrics  *Metrics
	running  atomic.Bool
	logger   *zap.Logger
}

// NewRunner creates a runner for the named worker.
func NewRunner(
	name string, cycle Cycle, config RunnerConfig, reporter *StatusReporter, metrics *Metrics, logger *zap.Logger,
) *Runner {
	return &Runner{
		name:     name,
		cycle:    cycle,
		config:   config,
		reporter: reporter,
		metrics:  metrics,
		logger:   logger.Named(name + "_runner"),
	}
}

// Run schedules the cycle until ctx is done, then waits for a running cycle
// to finish.
func (r *Runner) Run(ctx context.Context) error {
	if r.config.Interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", r.name)
	}

	cronLogger := &cronLogger{logger: r.logger}
	scheduler := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	scheduler.Schedule(cron.Every(r.config.Interval), cron.FuncJob(func() {
		r.RunOnce(ctx)
	}))

	if r.reporter != nil {
		r.reporter.Start(ctx)
		defer r.reporter.Stop(context.WithoutCancel(ctx))
	}

	r.logger.Info("Worker started",
		zap.String("worker", r.name),
		zap.Duration("interval", r.config.Interval))

	if r.config.StartupDelay > 0 {
		select {
		case <-time.After(r.config.StartupDelay):
		case <-ctx.Done():
			return nil
		}
	}

	r.RunOnce(ctx)
	scheduler.Start()

	<-ctx.Done()
	<-scheduler.Stop().Done()

	r.logger.Info("Worker stopped", zap.String("worker", r.name))

	return nil
}

// RunOnce runs a single cycle unless one is already running. It reports
// whether the cycle ran.
func (r *Runner) RunOnce(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("Cycle still running, skipping", zap.String("worker", r.name))
		r.metrics.cycle(r.name, ResultSkipped)

		return false
	}
	defer r.running.Store(false)

	if ctx.Err() != nil {
		return false
	}

	r.execute(ctx)

	return true
}

func (r *Runner) execute(ctx context.Context) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Worker cycle panicked",
				zap.String("worker", r.name),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			r.metrics.cycle(r.name, ResultPanic)
			r.setHealthy(false)
		}
	}()

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	processed, err := r.cycle(ctx)
	if err != nil {
		r.logger.Error("Worker cycle failed", zap.String("worker", r.name), zap.Error(err))
		r.metrics.cycle(r.name, ResultError)
		r.setHealthy(false)

		return
	}

	elapsed := time.Since(start)
	r.metrics.cycle(r.name, ResultOK)
	r.metrics.observe(r.name, elapsed.Seconds(), processed)
	r.setHealthy(true)

	if r.reporter != nil {
		r.reporter.UpdateStatus("Idle", processed)
	}

	r.logger.Debug("Worker cycle completed",
		zap.String("worker", r.name),
		zap.Int("processed", processed),
		zap.Duration("elapsed", elapsed))
}

func (r *Runner) setHealthy(healthy bool) {
	if r.reporter != nil {
		r.reporter.SetHealthy(healthy)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
