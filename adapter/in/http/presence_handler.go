package http

import (
	"context"
	"time"

	"presence_server/core/domain"
	"presence_server/core/port/in"
	"presence_server/internal/stream"
	"presence_server/pkg/apperr"
	"presence_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventReader pages through published presence events.
type EventReader interface {
	Recent(ctx context.Context, cursor string, limit int64) ([]domain.PresenceEvent, string, error)
}

// PresenceHandler serves read-only presence views.
type PresenceHandler struct {
	queries in.PresenceQueries
	rooms   []domain.RoomID
	events  EventReader
}

// NewPresenceHandler creates a presence handler. rooms are the rooms listed by
// the snapshot endpoint. events may be nil when event publishing is off.
func NewPresenceHandler(queries in.PresenceQueries, rooms []domain.RoomID, events EventReader) *PresenceHandler {
	return &PresenceHandler{
		queries: queries,
		rooms:   rooms,
		events:  events,
	}
}

// Register registers presence routes.
func (h *PresenceHandler) Register(router fiber.Router) {
	presence := router.Group("/presence")

	presence.Get("/users", h.ListActiveUsers)
	presence.Get("/rooms", h.ListRooms)
	presence.Get("/rooms/:room", h.GetRoom)
	presence.Get("/events", h.ListEvents)

	users := presence.Group("/users/:user")
	users.Get("/location", h.GetLocation)
	users.Get("/profile", h.GetProfile)
	users.Get("/heartbeat", h.GetHeartbeat)
	users.Get("/shout", h.GetShout)
}

// =============================================================================
// Collections
// =============================================================================

// ListActiveUsers returns every connected user.
// GET /api/v1/presence/users
func (h *PresenceHandler) ListActiveUsers(c *fiber.Ctx) error {
	users, err := h.queries.ActiveUsers(c.UserContext())
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, users, &response.Meta{Total: len(users)})
}

// ListRooms returns the occupants of every configured room.
// GET /api/v1/presence/rooms
func (h *PresenceHandler) ListRooms(c *fiber.Ctx) error {
	snapshot, err := h.queries.Snapshot(c.UserContext(), h.rooms)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, snapshot, &response.Meta{Total: len(snapshot)})
}

// GetRoom returns the occupants of one room. Unknown rooms are empty.
// GET /api/v1/presence/rooms/:room
func (h *PresenceHandler) GetRoom(c *fiber.Ctx) error {
	room := domain.RoomID(c.Params("room"))
	occupants, err := h.queries.Occupants(c.UserContext(), room)
	if err != nil {
		return err
	}
	return response.OK(c, domain.RoomPresence{Room: room, Occupants: occupants})
}

// ListEvents pages through recent presence events.
// GET /api/v1/presence/events?after=<cursor>&limit=<n>
func (h *PresenceHandler) ListEvents(c *fiber.Ctx) error {
	if h.events == nil {
		return fiber.NewError(fiber.StatusNotFound, "Presence events are disabled")
	}

	limit := c.QueryInt("limit", defaultEventLimit)
	if limit <= 0 || limit > maxEventLimit {
		return apperr.InvalidInput("limit", "must be between 1 and 500")
	}

	after := c.Query("after")
	if !stream.ValidID(after) {
		return apperr.InvalidInput("after", "must be a stream id such as 1700000000000-0")
	}

	events, cursor, err := h.events.Recent(c.UserContext(), after, int64(limit))
	if err != nil {
		if apperr.HasCode(err, apperr.CodeInvalidInput) {
			return err
		}
		return apperr.CacheUnavailable("read events", err)
	}
	return response.OKWithMeta(c, events, &response.Meta{Total: len(events), Cursor: cursor})
}

// =============================================================================
// Per-user lookups
// =============================================================================

// GetLocation returns the room a user is in.
// GET /api/v1/presence/users/:user/location
func (h *PresenceHandler) GetLocation(c *fiber.Ctx) error {
	userID := domain.UserID(c.Params("user"))
	room, ok, err := h.queries.Location(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if !ok {
		return response.NotFound(c, "No location recorded")
	}
	return response.OK(c, fiber.Map{"user_id": userID, "room": room})
}

// GetProfile returns the cached public profile.
// GET /api/v1/presence/users/:user/profile
func (h *PresenceHandler) GetProfile(c *fiber.Ctx) error {
	userID := domain.UserID(c.Params("user"))
	profile, ok, err := h.queries.PublicProfile(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if !ok {
		return response.NotFound(c, "No profile cached")
	}
	return response.OK(c, profile)
}

// GetHeartbeat returns when a user was last seen.
// GET /api/v1/presence/users/:user/heartbeat
func (h *PresenceHandler) GetHeartbeat(c *fiber.Ctx) error {
	return h.timestamp(c, "last_heartbeat", "No heartbeat recorded", h.queries.LastHeartbeat)
}

// GetShout returns when a user last shouted.
// GET /api/v1/presence/users/:user/shout
func (h *PresenceHandler) GetShout(c *fiber.Ctx) error {
	return h.timestamp(c, "last_shout", "No shout recorded", h.queries.LastShout)
}

func (h *PresenceHandler) timestamp(
	c *fiber.Ctx,
	field, missing string,
	get func(context.Context, domain.UserID) (time.Time, bool, error),
) error {
	userID := domain.UserID(c.Params("user"))
	ts, ok, err := get(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if !ok {
		return response.NotFound(c, missing)
	}
	return response.OK(c, fiber.Map{"user_id": userID, field: ts.UTC().Format(time.RFC3339Nano)})
}
