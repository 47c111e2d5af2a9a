package types

import (
	"time"

	"github.com/uptrace/bun"
)

// Defaults applied to a user's live settings before they change them.
const (
	DefaultRadiusKm = 5.0
	MaxRadiusKm     = 10.0
)

// LiveStatus is the durable liveness record of a user.
type LiveStatus struct {
	bun.BaseModel `bun:"table:live_statuses,alias:ls"`

	UserID     string     `bun:",pk"                           json:"userId"`
	IsLive     bool       `bun:",notnull"                      json:"isLive"`
	ShareTrack bool       `bun:",notnull,default:true"         json:"shareTrack"`
	AllowFind  bool       `bun:",notnull,default:true"         json:"allowFind"`
	RadiusKm   float64    `bun:",notnull,default:5"            json:"radiusKm"`
	LastActive *time.Time `bun:",nullzero"                     json:"lastActive,omitempty"` // Set whenever IsLive is true
	UpdatedAt  time.Time  `bun:",notnull,default:current_timestamp" json:"updatedAt"`
}

// NewLiveStatus returns the settings a user starts with.
func NewLiveStatus(userID string) *LiveStatus {
	return &LiveStatus{
		UserID:     userID,
		ShareTrack: true,
		AllowFind:  true,
		RadiusKm:   DefaultRadiusKm,
	}
}

// SettingsUpdate is a partial update of live settings. Nil fields are left unchanged.
type SettingsUpdate struct {
	IsLive     *bool    `json:"isLive,omitempty"`
	ShareTrack *bool    `json:"shareTrack,omitempty"`
	AllowFind  *bool    `json:"allowFind,omitempty"`
	RadiusKm   *float64 `json:"radiusKm,omitempty"`
}
