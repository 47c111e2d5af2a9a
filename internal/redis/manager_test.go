package redis_test

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/robalyx/resonance/internal/redis"
	"github.com/robalyx/resonance/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManagerReusesClients(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	port, err := strconv.Atoi(server.Port())
	require.NoError(t, err)

	manager := redis.NewManager(&config.FastStore{Host: server.Host(), Port: port}, zap.NewNop())
	t.Cleanup(manager.Close)

	first, err := manager.GetClient(redis.WorkerStatusDBIndex)
	require.NoError(t, err)

	second, err := manager.GetClient(redis.WorkerStatusDBIndex)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, first.Do(t.Context(), first.B().Set().Key("k").Value("v").Build()).Error())

	server.Select(redis.WorkerStatusDBIndex)
	value, err := server.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}
