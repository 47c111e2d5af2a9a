package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robalyx/resonance/internal/setup"
	"github.com/robalyx/resonance/internal/setup/telemetry"
	"github.com/robalyx/resonance/internal/worker/core"
	"github.com/robalyx/resonance/internal/worker/findsweep"
	"github.com/robalyx/resonance/internal/worker/reaper"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerLogDir specifies where worker log files are stored.
const WorkerLogDir = "logs/worker_logs"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "worker",
		Usage: "Start resonance background workers",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config files to load instead of the default search paths",
			},
			&cli.BoolFlag{
				Name:  "console",
				Usage: "Mirror logs to stderr",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (disabled when empty)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  reaper.Name,
				Usage: "Flip users with stale heartbeats offline",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runWorkers(ctx, c, reaper.Name)
				},
			},
			{
				Name:  findsweep.Name,
				Usage: "Expire idle Find sessions",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runWorkers(ctx, c, findsweep.Name)
				},
			},
			{
				Name:  "all",
				Usage: "Run every background worker in one process",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runWorkers(ctx, c, setup.WorkerNames...)
				},
			},
			{
				Name:   "status",
				Usage:  "Show the last reported status of every worker",
				Action: showStatus,
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// runWorkers starts the named workers and blocks until a signal arrives.
func runWorkers(ctx context.Context, c *cli.Command, names ...string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, options(c))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(context.Background())

	runners, err := setup.NewWorkerRunners(app, setup.NewServices(app), names...)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, runner := range runners {
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if addr := c.String("metrics-addr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve metrics: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	app.Logger.Info("Workers started", zap.Strings("workers", names))

	return g.Wait()
}

// showStatus prints the status every worker last published.
func showStatus(ctx context.Context, c *cli.Command) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, options(c))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(context.Background())

	statuses, err := core.NewMonitor(app.StatusClient, app.Logger).GetAllStatuses(ctx)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Println("No workers reporting")
		return nil
	}

	now := time.Now()
	for _, status := range statuses {
		state := "healthy"
		switch {
		case status.IsStale(now):
			state = "stale"
		case !status.IsHealthy:
			state = "unhealthy"
		}

		fmt.Printf("%-10s %s  %-9s processed=%d last_seen=%s task=%q\n",
			status.WorkerType, status.WorkerID, state, status.Processed,
			status.LastSeen.Format(time.RFC3339), status.CurrentTask)
	}

	return nil
}

func options(c *cli.Command) setup.Options {
	return setup.Options{
		ConfigFiles: c.StringSlice("config"),
		Console:     c.Bool("console"),
	}
}
