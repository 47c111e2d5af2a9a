package setup

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/rueidis"
	"github.com/robalyx/resonance/internal/database"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/redis"
	"github.com/robalyx/resonance/internal/setup/config"
	"github.com/robalyx/resonance/internal/setup/telemetry"
	"go.uber.org/zap"
)

// App bundles the infrastructure every binary needs.
type App struct {
	Config       *config.Config       // Application configuration
	Logger       *zap.Logger          // Main application logger
	DBLogger     *zap.Logger          // Database-specific logger
	DB           database.Client      // Database connection pool
	FastStore    faststore.Store      // Presence cache, geo index and session projections
	RedisManager *redis.Manager       // Nil in memory mode
	StatusClient rueidis.Client       // Redis client for worker status reporting, nil in memory mode
	Metrics      *prometheus.Registry // Prometheus registry served on /metrics
	LogManager   *telemetry.Manager   // Log management system
	debugServer  *debugServer         // pprof server, nil unless enabled
}

// Options tweak InitializeApp.
type Options struct {
	// ConfigFiles overrides the config search paths.
	ConfigFiles []string
	// Console mirrors logs to stderr.
	Console bool
	// AutoMigrate applies pending migrations on connect.
	AutoMigrate bool
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(
	ctx context.Context, serviceType telemetry.ServiceType, logDir string, opts Options,
) (*App, error) {
	cfg, err := loadConfig(opts.ConfigFiles)
	if err != nil {
		return nil, err
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, opts.Console)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, dbLogger.Named("database"), opts.AutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	app := &App{
		Config:     cfg,
		Logger:     logger,
		DBLogger:   dbLogger,
		DB:         db,
		Metrics:    newRegistry(),
		LogManager: logManager,
	}

	if err := app.initFastStore(); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Common.Debug.EnablePprof {
		srv, err := startDebugServer(cfg.Common.Debug.PprofPort, logger)
		if err != nil {
			logger.Error("Failed to start pprof server", zap.Error(err))
		} else {
			app.debugServer = srv

			logger.Warn("pprof debugging endpoint enabled - this should not be used in production!")
		}
	}

	return app, nil
}

// initFastStore selects the fast store implementation from the config.
func (s *App) initFastStore() error {
	switch s.Config.Common.FastStore.Mode {
	case config.FastStoreModeMemory:
		s.FastStore = faststore.NewMemory()

		s.Logger.Warn("Using the in-process fast store; run a single instance only")
	case config.FastStoreModeRedis:
		s.RedisManager = redis.NewManager(&s.Config.Common.FastStore, s.Logger)

		client, err := s.RedisManager.GetClient(redis.FastStoreDBIndex)
		if err != nil {
			return err
		}

		statusClient, err := s.RedisManager.GetClient(redis.WorkerStatusDBIndex)
		if err != nil {
			return err
		}

		s.FastStore = faststore.NewRedis(client)
		s.StatusClient = statusClient
	default:
		return fmt.Errorf("%w: unknown fast store mode %q", config.ErrInvalidConfig, s.Config.Common.FastStore.Mode)
	}

	return nil
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	if s.debugServer != nil {
		s.debugServer.Shutdown(ctx)
	}

	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections last as other components might need it during cleanup
	if s.RedisManager != nil {
		s.RedisManager.Close()
	} else if s.FastStore != nil {
		s.FastStore.Close()
	}

	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}
}

func loadConfig(files []string) (*config.Config, error) {
	if len(files) > 0 {
		return config.LoadFromFiles(files...)
	}

	cfg, _, err := config.LoadConfig()

	return cfg, err
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}
