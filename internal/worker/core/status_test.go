package core_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/resonance/internal/worker/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T) (*miniredis.Miniredis, rueidis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return mr, client
}

func TestReporterPublishesAndRemovesStatus(t *testing.T) {
	t.Parallel()

	mr, client := newClient(t)

	reporter := core.NewStatusReporter(client, "reaper", zap.NewNop())
	reporter.UpdateStatus("Idle", 4)
	reporter.Start(t.Context())

	key := core.StatusKey("reaper", reporter.GetWorkerID())
	require.Eventually(t, func() bool { return mr.Exists(key) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, core.HeartbeatTTL, mr.TTL(key))

	statuses, err := core.NewMonitor(client, zap.NewNop()).GetAllStatuses(t.Context())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "reaper", statuses[0].WorkerType)
	assert.Equal(t, 4, statuses[0].Processed)
	assert.True(t, statuses[0].IsHealthy)
	assert.False(t, statuses[0].IsStale(time.Now()))

	reporter.Stop(t.Context())
	assert.False(t, mr.Exists(key))

	// Stopping twice is harmless
	reporter.Stop(t.Context())
}

func TestMonitorWithoutClient(t *testing.T) {
	t.Parallel()

	monitor := core.NewMonitor(nil, zap.NewNop())
	require.NoError(t, monitor.ReportStatus(t.Context(), core.Status{WorkerType: "reaper"}))

	statuses, err := monitor.GetAllStatuses(t.Context())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}
