package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NotificationKind identifies what a notification is about.
type NotificationKind string

const (
	NotificationFindRequest NotificationKind = "find_request"
	NotificationFindEnded   NotificationKind = "find_ended"
)

// Notification is a message delivered to a user who may not be connected.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID        uuid.UUID        `bun:",pk,type:uuid"                      json:"id"`
	UserID    string           `bun:",notnull"                           json:"userId"`
	Kind      NotificationKind `bun:",notnull"                           json:"kind"`
	Title     string           `bun:",notnull"                           json:"title"`
	Body      string           `bun:",notnull"                           json:"body"`
	Payload   map[string]any   `bun:"type:jsonb"                         json:"payload,omitempty"`
	CreatedAt time.Time        `bun:",notnull,default:current_timestamp" json:"createdAt"`
	ReadAt    *time.Time       `bun:",nullzero"                          json:"readAt,omitempty"`
}
