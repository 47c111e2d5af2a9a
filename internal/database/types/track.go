package types

import (
	"time"

	"github.com/uptrace/bun"
)

// TrackSummary is the currently playing track a user shares with people nearby.
type TrackSummary struct {
	TrackID    string   `json:"trackId"`
	TrackName  string   `json:"trackName"`
	Artist     string   `json:"artist"`
	AlbumArt   string   `json:"albumArt,omitempty"`
	Energy     *float64 `json:"energy,omitempty"`
	Valence    *float64 `json:"valence,omitempty"`
	IsPlaying  bool     `json:"isPlaying"`
	ProgressMs int      `json:"progressMs"`
	DurationMs int      `json:"durationMs"`
}

// ListeningEvent records that a user played a track.
type ListeningEvent struct {
	bun.BaseModel `bun:"table:listening_events,alias:le"`

	ID        int64     `bun:",pk,autoincrement"                  json:"id"`
	UserID    string    `bun:",notnull"                           json:"userId"`
	TrackID   string    `bun:",notnull"                           json:"trackId"`
	TrackName string    `bun:",notnull"                           json:"trackName"`
	Artist    string    `bun:",notnull"                           json:"artist"`
	PlayedAt  time.Time `bun:",notnull,default:current_timestamp" json:"playedAt"`
}
