package presence

import (
	"context"
	"fmt"

	"presence_server/core/domain"
	"presence_server/core/port/out"
)

// RoomOccupancyTracker keeps the occupant list of each room.
type RoomOccupancyTracker struct {
	store     out.KVStore
	locations *LocationTracker
	opts      Options
}

func NewRoomOccupancyTracker(store out.KVStore, locations *LocationTracker, opts Options) *RoomOccupancyTracker {
	opts.Logger = opts.Logger.With().Str("component", "occupancy").Logger()
	return &RoomOccupancyTracker{store: store, locations: locations, opts: opts}
}

// GetOccupants returns the users in room. Unknown rooms are empty.
func (t *RoomOccupancyTracker) GetOccupants(ctx context.Context, room domain.RoomID) ([]domain.UserID, error) {
	if err := validateRoom(room); err != nil {
		return nil, err
	}
	key := t.opts.Keys.RoomPresence(string(room))
	data, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get occupants of %s: %w", room, err)
	}
	if !ok {
		return []domain.UserID{}, nil
	}
	return t.decode(key, data), nil
}

// SetOccupants overwrites the occupant list of room.
func (t *RoomOccupancyTracker) SetOccupants(ctx context.Context, room domain.RoomID, users []domain.UserID) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	data, err := encodeUserIDs(users)
	if err != nil {
		return fmt.Errorf("encode occupants of %s: %w", room, err)
	}
	if err := t.store.Set(ctx, t.opts.Keys.RoomPresence(string(room)), data); err != nil {
		return fmt.Errorf("set occupants of %s: %w", room, err)
	}
	return nil
}

func (t *RoomOccupancyTracker) AddOccupant(ctx context.Context, room domain.RoomID, userID domain.UserID) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	if err := validateUser(userID); err != nil {
		return err
	}
	key := t.opts.Keys.RoomPresence(string(room))
	err := t.store.Update(ctx, key, func(cur []byte, exists bool) ([]byte, bool, error) {
		users := t.decodeCurrent(key, cur, exists)
		if containsUser(users, userID) {
			return nil, false, nil
		}
		next, err := encodeUserIDs(append(users, userID))
		return next, true, err
	})
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", userID, room, err)
	}
	return nil
}

func (t *RoomOccupancyTracker) RemoveOccupant(ctx context.Context, room domain.RoomID, userID domain.UserID) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	if err := validateUser(userID); err != nil {
		return err
	}
	key := t.opts.Keys.RoomPresence(string(room))
	err := t.store.Update(ctx, key, func(cur []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, nil
		}
		users := t.decode(key, cur)
		if !containsUser(users, userID) {
			return nil, false, nil
		}
		next, err := encodeUserIDs(withoutUser(users, userID))
		return next, true, err
	})
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", userID, room, err)
	}
	return nil
}

// MoveUser takes userID out of from (empty for a first entry) and puts it in to.
//
// Steps run in order: leave the source, join the destination, then write the
// location pointer. A failure part way leaves the user in no room rather than
// two, and the location always names a room the user was added to.
func (t *RoomOccupancyTracker) MoveUser(ctx context.Context, userID domain.UserID, from, to domain.RoomID) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := validateRoom(to); err != nil {
		return err
	}
	if from != "" && from != to {
		if err := t.RemoveOccupant(ctx, from, userID); err != nil {
			return err
		}
	}
	if err := t.AddOccupant(ctx, to, userID); err != nil {
		return err
	}
	return t.locations.SetLocation(ctx, userID, to)
}

func (t *RoomOccupancyTracker) decodeCurrent(key string, cur []byte, exists bool) []domain.UserID {
	if !exists {
		return []domain.UserID{}
	}
	return t.decode(key, cur)
}

func (t *RoomOccupancyTracker) decode(key string, data []byte) []domain.UserID {
	users, err := decodeUserIDs(data)
	if err != nil {
		t.opts.decodeFailed(KindRoomPresence, key, data, err)
		return []domain.UserID{}
	}
	return users
}
