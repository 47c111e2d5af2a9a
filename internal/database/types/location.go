package types

import (
	"time"

	"github.com/uptrace/bun"
)

// LocationSnapshot is the last privacy-truncated geohash a user reported.
// The length of Geohash always equals PrecisionLevel.
type LocationSnapshot struct {
	bun.BaseModel `bun:"table:location_snapshots,alias:loc"`

	UserID         string    `bun:",pk"                                json:"userId"`
	Geohash        string    `bun:",notnull,type:varchar(12)"          json:"geohash"`
	PrecisionLevel int       `bun:",notnull,default:5"                 json:"precisionLevel"`
	UpdatedAt      time.Time `bun:",notnull,default:current_timestamp" json:"updatedAt"`
}
