package presence

import (
	"context"
	"time"

	"presence_server/core/domain"
	"presence_server/core/port/in"
	"presence_server/core/port/out"

	"golang.org/x/sync/errgroup"
)

const (
	reasonClient  = "client"
	snapshotLimit = 8
)

var (
	_ in.SessionCommands = (*Service)(nil)
	_ in.PresenceQueries = (*Service)(nil)
)

// Service maps session events from the transport layer onto the presence components.
type Service struct {
	users      *ActiveUserRegistry
	heartbeats *HeartbeatTracker
	rooms      *RoomOccupancyTracker
	locations  *LocationTracker
	profiles   *ProfileCache
	events     out.PresenceEventPublisher
	opts       Options
}

// NewService wires the presence components over store. events may be nil.
func NewService(store out.KVStore, events out.PresenceEventPublisher, opts Options) *Service {
	locations := NewLocationTracker(store, opts)
	svc := &Service{
		users:      NewActiveUserRegistry(store, opts),
		heartbeats: NewHeartbeatTracker(store, opts),
		rooms:      NewRoomOccupancyTracker(store, locations, opts),
		locations:  locations,
		profiles:   NewProfileCache(store, opts),
		events:     events,
		opts:       opts,
	}
	svc.opts.Logger = opts.Logger.With().Str("component", "presence_service").Logger()
	return svc
}

func (s *Service) Users() *ActiveUserRegistry   { return s.users }
func (s *Service) Heartbeats() *HeartbeatTracker { return s.heartbeats }
func (s *Service) Rooms() *RoomOccupancyTracker  { return s.rooms }
func (s *Service) Locations() *LocationTracker   { return s.locations }
func (s *Service) Profiles() *ProfileCache       { return s.profiles }

// =============================================================================
// Session commands
// =============================================================================

// Connect stamps userID's first heartbeat and registers it as active.
// The heartbeat goes first so a concurrent sweep never sees the user listed
// without a fresh timestamp.
func (s *Service) Connect(ctx context.Context, userID domain.UserID) error {
	if err := s.heartbeats.RecordHeartbeat(ctx, userID); err != nil {
		return err
	}
	if err := s.users.MarkUserActive(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, &domain.PresenceEvent{Type: domain.PresenceConnected, UserID: userID})
	return nil
}

// Disconnect removes userID from the active set and from its current room.
// The location pointer stays as the last room the user was seen in.
func (s *Service) Disconnect(ctx context.Context, userID domain.UserID) error {
	return s.disconnect(ctx, userID, reasonClient)
}

func (s *Service) disconnect(ctx context.Context, userID domain.UserID, reason string) error {
	if err := s.users.RemoveActiveUser(ctx, userID); err != nil {
		return err
	}
	room, ok, err := s.locations.GetLocation(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		if err := s.rooms.RemoveOccupant(ctx, room, userID); err != nil {
			return err
		}
	}
	s.publish(ctx, &domain.PresenceEvent{
		Type:   domain.PresenceDisconnected,
		UserID: userID,
		From:   room,
		Reason: reason,
	})
	return nil
}

func (s *Service) MoveUser(ctx context.Context, userID domain.UserID, from, to domain.RoomID) error {
	if err := s.rooms.MoveUser(ctx, userID, from, to); err != nil {
		return err
	}
	s.publish(ctx, &domain.PresenceEvent{
		Type:   domain.PresenceMoved,
		UserID: userID,
		From:   from,
		To:     to,
	})
	return nil
}

// Heartbeat refreshes userID's timestamp and restores its active membership
// if a sweep removed it in between.
func (s *Service) Heartbeat(ctx context.Context, userID domain.UserID) error {
	if err := s.heartbeats.RecordHeartbeat(ctx, userID); err != nil {
		return err
	}
	return s.users.MarkUserActive(ctx, userID)
}

func (s *Service) Shout(ctx context.Context, userID domain.UserID) error {
	return s.profiles.RecordShout(ctx, userID)
}

func (s *Service) SetPublicProfile(ctx context.Context, userID domain.UserID, profile domain.Profile) error {
	return s.profiles.SetPublicProfile(ctx, userID, profile)
}

// publish never fails the caller; the cache write already happened.
func (s *Service) publish(ctx context.Context, event *domain.PresenceEvent) {
	if s.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.opts.now().UTC()
	}
	if err := s.events.PublishPresence(ctx, event); err != nil {
		s.opts.Metrics.EventPublishFailure()
		s.opts.Logger.Warn().
			Err(err).
			Str("event", string(event.Type)).
			Str("user_id", event.UserID.String()).
			Msg("failed to publish presence event")
	}
}

// =============================================================================
// Queries
// =============================================================================

func (s *Service) ActiveUsers(ctx context.Context) ([]domain.UserID, error) {
	return s.users.GetActiveUsers(ctx)
}

func (s *Service) Occupants(ctx context.Context, room domain.RoomID) ([]domain.UserID, error) {
	return s.rooms.GetOccupants(ctx, room)
}

// Snapshot reads the occupants of every room concurrently. Results keep the order of rooms.
func (s *Service) Snapshot(ctx context.Context, rooms []domain.RoomID) ([]domain.RoomPresence, error) {
	result := make([]domain.RoomPresence, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotLimit)
	for i, room := range rooms {
		i, room := i, room
		g.Go(func() error {
			occupants, err := s.rooms.GetOccupants(gctx, room)
			if err != nil {
				return err
			}
			result[i] = domain.RoomPresence{Room: room, Occupants: occupants}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Location(ctx context.Context, userID domain.UserID) (domain.RoomID, bool, error) {
	return s.locations.GetLocation(ctx, userID)
}

func (s *Service) Username(ctx context.Context, userID domain.UserID) (string, bool, error) {
	return s.profiles.GetUsername(ctx, userID)
}

func (s *Service) PublicProfile(ctx context.Context, userID domain.UserID) (domain.Profile, bool, error) {
	return s.profiles.GetPublicProfile(ctx, userID)
}

func (s *Service) LastHeartbeat(ctx context.Context, userID domain.UserID) (time.Time, bool, error) {
	return s.heartbeats.GetHeartbeat(ctx, userID)
}

func (s *Service) LastShout(ctx context.Context, userID domain.UserID) (time.Time, bool, error) {
	return s.profiles.GetLastShout(ctx, userID)
}
