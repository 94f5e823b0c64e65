package store

import (
	"time"

	"github.com/uptrace/bun"
)

// Ban keeps a host out of the game until it expires
type Ban struct {
	bun.BaseModel `bun:"table:bans"`

	ID        int64      `bun:"id,pk,autoincrement" json:"id"`
	Host      string     `bun:"host,notnull,unique" json:"host"`
	Reason    string     `bun:"reason,notnull" json:"reason"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
}

// Active reports whether the ban still applies at now
func (b *Ban) Active(now time.Time) bool {
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}

// Session statuses
const (
	SessionConnected = "connected"
	SessionClosed    = "closed"
)

// Session is the audit record of one peer's stay on the server
type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	ID             string     `bun:"id,pk" json:"id"`
	Address        string     `bun:"address,notnull" json:"address"`
	Netmode        string     `bun:"netmode,notnull" json:"netmode"`
	PlayerName     string     `bun:"player_name" json:"player_name"`
	Status         string     `bun:"status,notnull" json:"status"`
	Reason         string     `bun:"reason" json:"reason,omitempty"`
	ConnectedAt    time.Time  `bun:"connected_at,notnull" json:"connected_at"`
	DisconnectedAt *time.Time `bun:"disconnected_at" json:"disconnected_at,omitempty"`
}
