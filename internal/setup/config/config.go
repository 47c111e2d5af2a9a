package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidConfig         = errors.New("invalid config")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.1.0"

// EnvPrefix is the prefix of environment variables that override file values.
// RESONANCE_COMMON__PRESENCE__CACHE_TTL maps to common.presence.cache_ttl.
const EnvPrefix = "RESONANCE_"

// Current version of the config file.
const (
	CurrentCommonVersion = 1
	CurrentServerVersion = 1
	CurrentWorkerVersion = 1
)

// FastStore modes.
const (
	FastStoreModeRedis  = "redis"
	FastStoreModeMemory = "memory"
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig `koanf:"common"`
	Server ServerConfig `koanf:"server"`
	Worker WorkerConfig `koanf:"worker"`
}

// CommonConfig contains configuration shared between the server and workers.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	FastStore  FastStore  `koanf:"faststore"`
	Presence   Presence   `koanf:"presence"`
	Geo        Geo        `koanf:"geo"`
	Find       Find       `koanf:"find"`
}

// ServerConfig contains HTTP and websocket server configuration.
type ServerConfig struct {
	// Version of the server config.
	Version int `koanf:"version"`
	// Address to listen on.
	Host string `koanf:"host"`
	// Port to listen on.
	Port int `koanf:"port"`
	// Bearer token verification.
	Auth Auth `koanf:"auth"`
	// Per-client REST rate limiting.
	RateLimit RateLimit `koanf:"rate_limit"`
	// Websocket gateway settings.
	Realtime Realtime `koanf:"realtime"`
	// Run the reaper and find sweeper inside the server process.
	EmbeddedWorkers bool `koanf:"embedded_workers"`
}

// WorkerConfig contains worker specific configuration.
type WorkerConfig struct {
	// Version of the worker config.
	Version int `koanf:"version"`
	// Delay before the first cycle runs.
	StartupDelay time.Duration `koanf:"startup_delay"`
	// Maximum time a single cycle may run.
	CycleTimeout time.Duration `koanf:"cycle_timeout"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
	// Enable pprof debugging.
	EnablePprof bool `koanf:"enable_pprof"`
	// pprof server port.
	PprofPort int `koanf:"pprof_port"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// FastStore selects and configures the low-latency key-value store.
type FastStore struct {
	// Either "redis" or "memory".
	Mode string `koanf:"mode"`
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Presence configures the live presence cache and the reaper.
type Presence struct {
	// Lifetime of a cached presence entry without heartbeats.
	CacheTTL time.Duration `koanf:"cache_ttl"`
	// Users without activity for this long are flipped offline by the reaper.
	StaleThreshold time.Duration `koanf:"stale_threshold"`
	// How often the reaper runs.
	ReapInterval time.Duration `koanf:"reap_interval"`
	// Minimum gap between durable lastActive writes from heartbeats.
	SyncInterval time.Duration `koanf:"sync_interval"`
	// Maximum rows examined per reaper cycle.
	ReapBatchSize int `koanf:"reap_batch_size"`
}

// Geo configures the location index and proximity queries.
type Geo struct {
	MaxRadiusKm     float64 `koanf:"max_radius_km"`
	DefaultRadiusKm float64 `koanf:"default_radius_km"`
	MinPrecision    int     `koanf:"min_precision"`
	MaxPrecision    int     `koanf:"max_precision"`
	// Freshness window of a reported precise location.
	LocationTTL time.Duration `koanf:"location_ttl"`
	// Upper bound on candidates fetched from the index per query.
	MaxCandidates int `koanf:"max_candidates"`
	DefaultLimit  int `koanf:"default_limit"`
	// Concurrent profile lookups per nearby query.
	ProfileConcurrency int `koanf:"profile_concurrency"`
}

// Find configures Find sessions.
type Find struct {
	// Lifetime of the fast-store session projection.
	SessionTTL time.Duration `koanf:"session_ttl"`
	// ACTIVE sessions without a bucket update for this long are expired.
	IdleExpiry time.Duration `koanf:"idle_expiry"`
	// How often the sweeper runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// Maximum sessions expired per sweep.
	SweepBatchSize int `koanf:"sweep_batch_size"`
}

// Auth configures bearer token verification.
type Auth struct {
	// HMAC secret used to verify HS256 tokens.
	JWTSecret string `koanf:"jwt_secret"`
	// Expected token issuer. Empty disables the check.
	Issuer string `koanf:"issuer"`
}

// RateLimit configures the REST rate limiter.
type RateLimit struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	BurstSize         int     `koanf:"burst_size"`
	// Consecutive violations before a client is blocked.
	StrikeLimit int `koanf:"strike_limit"`
	// How long a blocked client is refused.
	BlockDuration time.Duration `koanf:"block_duration"`
}

// Realtime configures the websocket gateway.
type Realtime struct {
	// Allowed origins for websocket upgrades. Empty allows any.
	AllowedOrigins []string `koanf:"allowed_origins"`
	// Inbound events per second allowed per connection.
	EventsPerSecond float64 `koanf:"events_per_second"`
	EventBurst      int     `koanf:"event_burst"`
	// Maximum inbound frame size in bytes.
	MaxMessageBytes int64 `koanf:"max_message_bytes"`
}

// LoadConfig loads the configuration from the config files and the environment.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".resonance",
		homeDir + "/.resonance/config",
		"/etc/resonance/config",
		"/app/config",
		"config",
		".",
	}

	// Load all config files
	var usedConfigPath string

	configFiles := []string{"common", "server", "worker"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	config, err := unmarshal(k)
	if err != nil {
		return nil, "", err
	}

	return config, usedConfigPath, nil
}

// LoadFromFiles loads configuration from explicit file paths, then applies the
// environment. Used by tests and by binaries given a --config flag.
func LoadFromFiles(paths ...string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range paths {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	return unmarshal(k)
}

// unmarshal applies environment overrides, decodes, checks versions and fills defaults.
func unmarshal(k *koanf.Koanf) (*Config, error) {
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, err
	}

	if err := checkConfigVersion("server", config.Server.Version, CurrentServerVersion); err != nil {
		return nil, err
	}

	if err := checkConfigVersion("worker", config.Worker.Version, CurrentWorkerVersion); err != nil {
		return nil, err
	}

	config.ApplyDefaults()

	return &config, nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/resonance/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
