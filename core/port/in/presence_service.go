package in

import (
	"context"
	"time"

	"presence_server/core/domain"
)

// SessionCommands are invoked by the transport layer on connection events.
type SessionCommands interface {
	Connect(ctx context.Context, userID domain.UserID) error
	Disconnect(ctx context.Context, userID domain.UserID) error
	MoveUser(ctx context.Context, userID domain.UserID, from, to domain.RoomID) error
	Heartbeat(ctx context.Context, userID domain.UserID) error
	Shout(ctx context.Context, userID domain.UserID) error
	SetPublicProfile(ctx context.Context, userID domain.UserID, profile domain.Profile) error
}

// PresenceQueries are read-only lookups for presence views and profile displays.
type PresenceQueries interface {
	ActiveUsers(ctx context.Context) ([]domain.UserID, error)
	Occupants(ctx context.Context, room domain.RoomID) ([]domain.UserID, error)
	Snapshot(ctx context.Context, rooms []domain.RoomID) ([]domain.RoomPresence, error)
	Location(ctx context.Context, userID domain.UserID) (domain.RoomID, bool, error)
	Username(ctx context.Context, userID domain.UserID) (string, bool, error)
	PublicProfile(ctx context.Context, userID domain.UserID) (domain.Profile, bool, error)
	LastHeartbeat(ctx context.Context, userID domain.UserID) (time.Time, bool, error)
	LastShout(ctx context.Context, userID domain.UserID) (time.Time, bool, error)
}
