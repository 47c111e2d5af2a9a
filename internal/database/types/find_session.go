package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FindStatus is the lifecycle state of a Find session.
type FindStatus string

const (
	FindStatusActive    FindStatus = "active"
	FindStatusCompleted FindStatus = "completed"
	FindStatusCancelled FindStatus = "cancelled"
	FindStatusExpired   FindStatus = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s FindStatus) IsTerminal() bool {
	return s == FindStatusCompleted || s == FindStatusCancelled || s == FindStatusExpired
}

// Bucket is the coarse distance band between seeker and target.
type Bucket string

const (
	BucketFar   Bucket = "far"
	BucketWarm  Bucket = "warm"
	BucketClose Bucket = "close"
	BucketFound Bucket = "found"
)

// FindSession is a guided search of a seeker for a target.
type FindSession struct {
	bun.BaseModel `bun:"table:find_sessions,alias:fs"`

	ID            uuid.UUID  `bun:",pk,type:uuid"                      json:"id"`
	SeekerID      string     `bun:",notnull"                           json:"seekerId"`
	TargetID      string     `bun:",notnull"                           json:"targetId"`
	Status        FindStatus `bun:",notnull"                           json:"status"`
	CurrentBucket Bucket     `bun:",notnull"                           json:"currentBucket"`
	Version       int64      `bun:",notnull,default:0"                 json:"version"` // Newest location timestamp the bucket was computed from
	StartedAt     time.Time  `bun:",notnull,default:current_timestamp" json:"startedAt"`
	UpdatedAt     time.Time  `bun:",notnull,default:current_timestamp" json:"updatedAt"`
	EndedAt       *time.Time `bun:",nullzero"                          json:"endedAt,omitempty"`
}

// IsParticipant reports whether userID is the seeker or the target.
func (s *FindSession) IsParticipant(userID string) bool {
	return s.SeekerID == userID || s.TargetID == userID
}
