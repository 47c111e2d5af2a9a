package presence

import (
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/resonance/internal/database/types"
)

const cacheKeyPrefix = "presence:"

// Cache hash fields.
const (
	fieldLive       = "live"
	fieldLastActive = "lastActive"
	fieldShareTrack = "shareTrack"
	fieldAllowFind  = "allowFind"
	fieldRadiusKm   = "radiusKm"
	fieldSyncedAt   = "syncedAt"
	fieldTrack      = "track"
)

// Entry is the cached presence of a live user.
type Entry struct {
	UserID     string              `json:"userId"`
	IsLive     bool                `json:"isLive"`
	LastActive time.Time           `json:"lastActive"`
	ShareTrack bool                `json:"shareTrack"`
	AllowFind  bool                `json:"allowFind"`
	RadiusKm   float64             `json:"radiusKm"`
	Track      *types.TrackSummary `json:"track,omitempty"`

	syncedAt time.Time
}

// VisibleTrack returns the track other users may see, or nil.
func (e *Entry) VisibleTrack() *types.TrackSummary {
	if !e.ShareTrack || e.Track == nil || !e.Track.IsPlaying {
		return nil
	}

	return e.Track
}

func cacheKey(userID string) string {
	return cacheKeyPrefix + userID
}

// entryFromStatus builds a cache entry from a durable row.
func entryFromStatus(status *types.LiveStatus) *Entry {
	entry := &Entry{
		UserID:     status.UserID,
		IsLive:     status.IsLive,
		ShareTrack: status.ShareTrack,
		AllowFind:  status.AllowFind,
		RadiusKm:   status.RadiusKm,
	}

	if status.LastActive != nil {
		entry.LastActive = *status.LastActive
	}

	return entry
}

// fields encodes the entry as cache hash fields.
func (e *Entry) fields() (map[string]string, error) {
	fields := map[string]string{
		fieldLive:       formatBool(e.IsLive),
		fieldLastActive: formatMillis(e.LastActive),
		fieldShareTrack: formatBool(e.ShareTrack),
		fieldAllowFind:  formatBool(e.AllowFind),
		fieldRadiusKm:   formatFloat(e.RadiusKm),
		fieldSyncedAt:   formatMillis(e.syncedAt),
	}

	if e.Track != nil {
		track, err := sonic.MarshalString(e.Track)
		if err != nil {
			return nil, err
		}

		fields[fieldTrack] = track
	}

	return fields, nil
}

// parseEntry decodes cache hash fields. Returns nil for an empty hash.
func parseEntry(userID string, fields map[string]string) *Entry {
	if len(fields) == 0 {
		return nil
	}

	entry := &Entry{
		UserID:     userID,
		IsLive:     fields[fieldLive] == "1",
		LastActive: parseMillis(fields[fieldLastActive]),
		ShareTrack: fields[fieldShareTrack] == "1",
		AllowFind:  fields[fieldAllowFind] == "1",
		syncedAt:   parseMillis(fields[fieldSyncedAt]),
	}

	if radius, err := strconv.ParseFloat(fields[fieldRadiusKm], 64); err == nil {
		entry.RadiusKm = radius
	}

	if raw := fields[fieldTrack]; raw != "" {
		var track types.TrackSummary
		if err := sonic.UnmarshalString(raw, &track); err == nil {
			entry.Track = &track
		}
	}

	return entry
}

func formatBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
