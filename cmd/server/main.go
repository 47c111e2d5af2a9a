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

	"github.com/robalyx/resonance/internal/auth"
	"github.com/robalyx/resonance/internal/realtime"
	"github.com/robalyx/resonance/internal/rest"
	"github.com/robalyx/resonance/internal/setup"
	"github.com/robalyx/resonance/internal/setup/config"
	"github.com/robalyx/resonance/internal/setup/telemetry"
	"github.com/robalyx/resonance/internal/worker/core"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ServerLogDir specifies where server log files are stored.
const ServerLogDir = "logs/server_logs"

// ErrUserIDRequired is returned when token is run without a user id.
var ErrUserIDRequired = errors.New("USER_ID argument required")

// Server timeouts.
const (
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 10 * time.Second
	ShutdownTimeout   = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "server",
		Usage: "Start the resonance API and realtime gateway",
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
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply pending database migrations on startup",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "token",
				Usage:     "Sign a bearer token for local testing",
				ArgsUsage: "USER_ID",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime",
						Value: 24 * time.Hour,
					},
				},
				Action: issueToken,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, setup.Options{
				ConfigFiles: c.StringSlice("config"),
				Console:     c.Bool("console"),
				AutoMigrate: c.Bool("migrate"),
			})
		},
	}

	return app.Run(context.Background(), os.Args)
}

// issueToken prints a token signed with the configured secret.
func issueToken(_ context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return ErrUserIDRequired
	}

	cfg, err := loadConfig(c.StringSlice("config"))
	if err != nil {
		return err
	}

	token, err := auth.NewVerifier(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.Issuer).
		Issue(c.Args().First(), c.Duration("ttl"))
	if err != nil {
		return err
	}

	fmt.Println(token)

	return nil
}

func loadConfig(files []string) (*config.Config, error) {
	if len(files) > 0 {
		return config.LoadFromFiles(files...)
	}

	cfg, _, err := config.LoadConfig()

	return cfg, err
}

func serve(ctx context.Context, opts setup.Options) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, telemetry.ServiceServer, ServerLogDir, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(context.Background())

	services := setup.NewServices(app)
	cfg := &app.Config.Server
	logger := app.Logger.Named("realtime")

	// Realtime delivery
	metrics := realtime.NewMetrics(app.Metrics)
	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, services.Proximity, metrics, logger)
	services.Find.SetEvents(realtime.NewFindEvents(
		broadcaster, services.Proximity, app.DB.Model().Notifications(), logger,
	))

	dispatcher := realtime.NewDispatcher(metrics, logger)
	realtime.NewHandlers(
		services.Presence, services.Location, services.Proximity, services.Find, broadcaster, logger,
	).Register(dispatcher)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	gateway := realtime.NewGateway(ctx, registry, dispatcher, verifier, realtime.GatewayConfig{
		AllowedOrigins:  cfg.Realtime.AllowedOrigins,
		EventsPerSecond: cfg.Realtime.EventsPerSecond,
		EventBurst:      cfg.Realtime.EventBurst,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
	}, metrics, logger)

	server := rest.NewServer(&rest.Dependencies{
		Presence:  services.Presence,
		Location:  services.Location,
		Proximity: services.Proximity,
		Find:      services.Find,
		Announcer: realtime.NewAnnouncer(broadcaster, services.Proximity, logger),
		Stats:     broadcaster,
		FastStore: app.FastStore,
		Database:  app.DB,
		Verifier:  verifier,
		Gateway:   gateway,
		Gatherer:  app.Metrics,
	}, cfg, app.Logger)
	defer server.Close()

	var runners []*core.Runner
	if cfg.EmbeddedWorkers {
		runners, err = setup.NewWorkerRunners(app, services, setup.WorkerNames...)
		if err != nil {
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info("Server started", zap.String("addr", addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		app.Logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error("Server forced to shutdown", zap.Error(err))
		}

		// Let in-flight realtime events finish before the stores close
		gateway.Wait()

		return nil
	})

	for _, runner := range runners {
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	app.Logger.Info("Server gracefully stopped")

	return nil
}
