package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/resonance/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) []string {
	t.Helper()

	dir := t.TempDir()
	paths := make([]string, 0, len(files))

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		paths = append(paths, path)
	}

	return paths
}

func minimalFiles() map[string]string {
	return map[string]string{
		"common.toml": "[common]\nversion = 1\n",
		"server.toml": "[server]\nversion = 1\n[server.auth]\njwt_secret = \"s\"\n",
		"worker.toml": "[worker]\nversion = 1\n",
	}
}

func TestLoadFromFilesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromFiles(writeFiles(t, minimalFiles())...)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Common.Presence.CacheTTL)
	assert.Equal(t, 2*time.Minute, cfg.Common.Presence.StaleThreshold)
	assert.Equal(t, 30*time.Second, cfg.Common.Presence.SyncInterval)
	assert.InDelta(t, 10.0, cfg.Common.Geo.MaxRadiusKm, 0)
	assert.InDelta(t, 5.0, cfg.Common.Geo.DefaultRadiusKm, 0)
	assert.Equal(t, 300*time.Second, cfg.Common.Geo.LocationTTL)
	assert.Equal(t, 1, cfg.Common.Geo.MinPrecision)
	assert.Equal(t, 9, cfg.Common.Geo.MaxPrecision)
	assert.Equal(t, 5*time.Minute, cfg.Common.Find.SessionTTL)
	assert.Equal(t, 30*time.Minute, cfg.Common.Find.IdleExpiry)
	assert.Equal(t, config.FastStoreModeRedis, cfg.Common.FastStore.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromFilesParsesDurations(t *testing.T) {
	t.Parallel()

	files := minimalFiles()
	files["common.toml"] = "[common]\nversion = 1\n[common.presence]\ncache_ttl = \"90s\"\n" +
		"[common.faststore]\nmode = \"memory\"\n"

	cfg, err := config.LoadFromFiles(writeFiles(t, files)...)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Common.Presence.CacheTTL)
	assert.Equal(t, config.FastStoreModeMemory, cfg.Common.FastStore.Mode)
}

func TestLoadFromFilesEnvOverride(t *testing.T) {
	t.Setenv("RESONANCE_COMMON__PRESENCE__STALE_THRESHOLD", "3m")
	t.Setenv("RESONANCE_SERVER__PORT", "9090")

	cfg, err := config.LoadFromFiles(writeFiles(t, minimalFiles())...)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Minute, cfg.Common.Presence.StaleThreshold)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadFromFilesVersionChecks(t *testing.T) {
	t.Parallel()

	files := minimalFiles()
	files["worker.toml"] = "[worker]\nstartup_delay = \"1s\"\n"

	_, err := config.LoadFromFiles(writeFiles(t, files)...)
	require.ErrorIs(t, err, config.ErrConfigVersionMissing)

	files["worker.toml"] = "[worker]\nversion = 7\n"

	_, err = config.LoadFromFiles(writeFiles(t, files)...)
	require.ErrorIs(t, err, config.ErrConfigVersionMismatch)
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
