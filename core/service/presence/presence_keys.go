package presence

// KeyKind selects the entity a cache key belongs to.
type KeyKind int

const (
	KindActiveUsers KeyKind = iota
	KindHeartbeat
	KindRoomPresence
	KindUserRoom
	KindProfile
	KindHandle
	KindShout
)

// Key layout. No suffix ends with another suffix, and the active-user key ends
// with none of them, so keys of different kinds never collide.
const (
	activeUsersKey  = "activeUsersList"
	heartbeatSuffix = "Heartbeat"
	presenceSuffix  = "Presence"
	roomSuffix      = "Room"
	profileSuffix   = "Profile"
	handleSuffix    = "Handle"
	shoutSuffix     = "Shout"

	reaperLockKey = "presence:reaper:lock"
)

func (k KeyKind) String() string {
	switch k {
	case KindActiveUsers:
		return "active_users"
	case KindHeartbeat:
		return "heartbeat"
	case KindRoomPresence:
		return "room_presence"
	case KindUserRoom:
		return "user_room"
	case KindProfile:
		return "profile"
	case KindHandle:
		return "handle"
	case KindShout:
		return "shout"
	default:
		return "unknown"
	}
}

// Keys maps entities to cache keys. The zero value uses the bare layout.
type Keys struct {
	prefix string
}

// NewKeys returns a namespace that prepends prefix to every key.
func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// Key returns the cache key for kind and id. id is ignored for KindActiveUsers.
func (k Keys) Key(kind KeyKind, id string) string {
	switch kind {
	case KindActiveUsers:
		return k.prefix + activeUsersKey
	case KindHeartbeat:
		return k.prefix + id + heartbeatSuffix
	case KindRoomPresence:
		return k.prefix + id + presenceSuffix
	case KindUserRoom:
		return k.prefix + id + roomSuffix
	case KindProfile:
		return k.prefix + id + profileSuffix
	case KindHandle:
		return k.prefix + id + handleSuffix
	case KindShout:
		return k.prefix + id + shoutSuffix
	default:
		panic("presence: unknown key kind")
	}
}

func (k Keys) ActiveUsers() string             { return k.Key(KindActiveUsers, "") }
func (k Keys) Heartbeat(userID string) string  { return k.Key(KindHeartbeat, userID) }
func (k Keys) RoomPresence(room string) string { return k.Key(KindRoomPresence, room) }
func (k Keys) UserRoom(userID string) string   { return k.Key(KindUserRoom, userID) }
func (k Keys) Profile(userID string) string    { return k.Key(KindProfile, userID) }
func (k Keys) Handle(userID string) string     { return k.Key(KindHandle, userID) }
func (k Keys) Shout(userID string) string      { return k.Key(KindShout, userID) }
func (k Keys) ReaperLock() string              { return k.prefix + reaperLockKey }
