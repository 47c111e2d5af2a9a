package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"go.uber.org/zap"
)

// ReapResult summarizes one reaper cycle.
type ReapResult struct {
	Scanned    int
	Flipped    []string // Users flipped offline
	Yielded    int      // Stale rows kept live because of a newer cached heartbeat
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Reap flips durable rows that are live but inactive past the staleness
// threshold to offline. A row whose cache entry shows a newer heartbeat is
// synced instead of flipped. Per-user failures are logged and skipped.
func (s *Store) Reap(ctx context.Context) (*ReapResult, error) {
	now := s.now()
	cutoff := now.Add(-s.config.StaleThreshold)
	result := &ReapResult{StartedAt: now}

	stale, err := s.statuses.GetStale(ctx, cutoff, s.config.ReapBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale users: %w", err)
	}

	result.Scanned = len(stale)
	if len(stale) == 0 {
		result.FinishedAt = s.now()
		return result, nil
	}

	userIDs := make([]string, len(stale))
	for i, status := range stale {
		userIDs[i] = status.UserID
	}

	cached := s.cachedEntries(ctx, userIDs)

	for _, status := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if entry, ok := cached[status.UserID]; ok && entry.IsLive && entry.LastActive.After(cutoff) {
			if err := s.statuses.TouchLastActive(ctx, status.UserID, entry.LastActive); err != nil {
				s.logger.Warn("Failed to sync newer heartbeat",
					zap.String("userID", status.UserID), zap.Error(err))
				result.Failed++
				continue
			}

			result.Yielded++
			continue
		}

		flipped, err := s.statuses.FlipStale(ctx, status.UserID, cutoff, now)
		if err != nil {
			s.logger.Warn("Failed to flip stale user",
				zap.String("userID", status.UserID), zap.Error(err))
			result.Failed++
			continue
		}

		if !flipped {
			continue
		}

		s.evict(ctx, status.UserID)
		result.Flipped = append(result.Flipped, status.UserID)
	}

	result.FinishedAt = s.now()

	s.logger.Debug("Reaper cycle finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("flipped", len(result.Flipped)),
		zap.Int("yielded", result.Yielded),
		zap.Int("failed", result.Failed))

	return result, nil
}

// cachedEntries reads cache entries for userIDs. An unreachable cache yields
// no entries, so every stale row is judged by the durable record alone.
func (s *Store) cachedEntries(ctx context.Context, userIDs []string) map[string]*Entry {
	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = cacheKey(userID)
	}

	entries := make(map[string]*Entry, len(userIDs))

	hashes, err := s.cache.HGetAllMulti(ctx, keys...)
	if err != nil {
		level := s.logger.Warn
		if !errors.Is(err, apperr.ErrUnavailable) {
			level = s.logger.Error
		}

		level("Failed to read presence cache during reap", zap.Error(err))

		return entries
	}

	for i, userID := range userIDs {
		if entry := parseEntry(userID, hashes[i]); entry != nil {
			entries[userID] = entry
		}
	}

	return entries
}
