package core

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// HeartbeatInterval is how often workers report their status.
	HeartbeatInterval = 10 * time.Second

	// HeartbeatTTL is how long a worker's status remains valid.
	HeartbeatTTL = 10 * time.Minute

	// StaleThreshold is how long before a worker is considered offline.
	StaleThreshold = time.Minute
)

// Status represents a worker's current state.
type Status struct {
	WorkerID    string    `json:"workerId"`
	WorkerType  string    `json:"workerType"`
	LastSeen    time.Time `json:"lastSeen"`
	LastCycle   time.Time `json:"lastCycle"`
	CurrentTask string    `json:"currentTask,omitempty"`
	Processed   int       `json:"processed"`
	IsHealthy   bool      `json:"isHealthy"`
}

// IsStale reports whether the worker stopped reporting.
func (s *Status) IsStale(now time.Time) bool {
	return now.Sub(s.LastSeen) > StaleThreshold
}

// Monitor handles worker status reporting and querying.
// A nil client turns every operation into a no-op.
type Monitor struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewMonitor creates a new worker status monitor.
func NewMonitor(client rueidis.Client, logger *zap.Logger) *Monitor {
	return &Monitor{
		client: client,
		logger: logger,
	}
}

// StatusKey returns the Redis key of a worker's status.
func StatusKey(workerType, workerID string) string {
	return fmt.Sprintf("worker:%s:%s", workerType, workerID)
}

// ReportStatus stores the worker's status with HeartbeatTTL.
func (m *Monitor) ReportStatus(ctx context.Context, status Status) error {
	if m.client == nil {
		return nil
	}

	status.LastSeen = time.Now()

	data, err := sonic.MarshalString(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := StatusKey(status.WorkerType, status.WorkerID)

	err = m.client.Do(ctx, m.client.B().Set().Key(key).Value(data).Ex(HeartbeatTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}

	return nil
}

// RemoveStatus deletes the worker's status.
func (m *Monitor) RemoveStatus(ctx context.Context, workerType, workerID string) error {
	if m.client == nil {
		return nil
	}

	err := m.client.Do(ctx, m.client.B().Del().Key(StatusKey(workerType, workerID)).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to remove status: %w", err)
	}

	return nil
}

// GetAllStatuses returns the status of every reporting worker.
func (m *Monitor) GetAllStatuses(ctx context.Context) ([]Status, error) {
	if m.client == nil {
		return nil, nil
	}

	var (
		keys   []string
		cursor uint64
	)

	for {
		entry, err := m.client.Do(ctx, m.client.B().Scan().Cursor(cursor).Match("worker:*").Count(100).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker keys: %w", err)
		}

		keys = append(keys, entry.Elements...)

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return []Status{}, nil
	}

	values, err := rueidis.MGet(m.client, ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to get worker statuses: %w", err)
	}

	statuses := make([]Status, 0, len(values))

	for key, value := range values {
		data, err := value.ToString()
		if err != nil {
			continue // Expired between scan and read
		}

		var status Status
		if err := sonic.UnmarshalString(data, &status); err != nil {
			m.logger.Error("Failed to unmarshal worker status", zap.String("key", key), zap.Error(err))
			continue
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}
