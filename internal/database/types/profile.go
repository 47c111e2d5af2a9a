package types

import (
	"time"

	"github.com/uptrace/bun"
)

// AnonymousDisplayName replaces the display name of anonymous users everywhere.
const AnonymousDisplayName = "Anonymous Listener"

// Profile is the subset of a user's profile the core reads.
// Rows are owned by the profile system; the core never writes them.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	UserID          string    `bun:",pk"                                json:"userId"`
	DisplayName     string    `bun:",notnull"                           json:"displayName"`
	AvatarURL       *string   `bun:",nullzero"                          json:"avatarUrl,omitempty"`
	IsAnonymous     bool      `bun:",notnull,default:false"             json:"isAnonymous"`
	InstagramHandle *string   `bun:",nullzero"                          json:"instagramHandle,omitempty"`
	DiscordHandle   *string   `bun:",nullzero"                          json:"discordHandle,omitempty"`
	UpdatedAt       time.Time `bun:",notnull,default:current_timestamp" json:"updatedAt"`
}

// Socials are the public social handles of a non-anonymous user.
type Socials struct {
	Instagram *string `json:"instagram,omitempty"`
	Discord   *string `json:"discord,omitempty"`
}

// PublicProfile is the projection of a profile other users may see.
type PublicProfile struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	AvatarURL   *string  `json:"avatarUrl"`
	Socials     *Socials `json:"socials,omitempty"`
}

// Public returns the projection of p other users may see.
// Anonymous users expose only their id and the placeholder name.
func (p *Profile) Public() PublicProfile {
	if p.IsAnonymous {
		return PublicProfile{
			UserID:      p.UserID,
			DisplayName: AnonymousDisplayName,
		}
	}

	return PublicProfile{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Socials: &Socials{
			Instagram: p.InstagramHandle,
			Discord:   p.DiscordHandle,
		},
	}
}
