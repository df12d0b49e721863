package domain

import (
	"strings"
	"time"
)

// UserID identifies an account. Supplied by the authentication service.
type UserID string

// RoomID identifies one of the statically defined rooms.
type RoomID string

func (u UserID) String() string { return string(u) }
func (r RoomID) String() string { return string(r) }

// Profile is the cached public projection of a user's editable metadata.
type Profile struct {
	Username    string `json:"username"`
	RealName    string `json:"realName,omitempty"`
	Pronouns    string `json:"pronouns,omitempty"`
	Description string `json:"description,omitempty"`
	AskMeAbout  string `json:"askMeAbout,omitempty"`
	URL         string `json:"url,omitempty"`
}

// NormalizeUsername replaces spaces with dashes so handles stay single tokens
// in chat commands such as "/whisper <handle> ...".
func NormalizeUsername(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "-")
}

// RoomPresence is the occupant list of a single room at read time.
type RoomPresence struct {
	Room      RoomID   `json:"room"`
	Occupants []UserID `json:"occupants"`
}

// PresenceEventType enumerates session transitions published to listeners.
type PresenceEventType string

const (
	PresenceConnected    PresenceEventType = "connected"
	PresenceDisconnected PresenceEventType = "disconnected"
	PresenceMoved        PresenceEventType = "moved"
)

// PresenceEvent describes a state change after it was written to the cache.
type PresenceEvent struct {
	Type      PresenceEventType `json:"type"`
	UserID    UserID            `json:"user_id"`
	From      RoomID            `json:"from,omitempty"`
	To        RoomID            `json:"to,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
