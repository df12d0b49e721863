package presence

import (
	"context"
	"fmt"

	"presence_server/core/domain"
	"presence_server/core/port/out"
)

// LocationTracker stores the single room each user is in.
type LocationTracker struct {
	store out.KVStore
	opts  Options
}

func NewLocationTracker(store out.KVStore, opts Options) *LocationTracker {
	return &LocationTracker{store: store, opts: opts}
}

func (l *LocationTracker) SetLocation(ctx context.Context, userID domain.UserID, room domain.RoomID) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := validateRoom(room); err != nil {
		return err
	}
	if err := l.store.Set(ctx, l.opts.Keys.UserRoom(string(userID)), []byte(room)); err != nil {
		return fmt.Errorf("set location for %s: %w", userID, err)
	}
	return nil
}

// GetLocation returns the user's room. ok is false before the first room entry.
func (l *LocationTracker) GetLocation(ctx context.Context, userID domain.UserID) (domain.RoomID, bool, error) {
	if err := validateUser(userID); err != nil {
		return "", false, err
	}
	data, ok, err := l.store.Get(ctx, l.opts.Keys.UserRoom(string(userID)))
	if err != nil {
		return "", false, fmt.Errorf("get location for %s: %w", userID, err)
	}
	if !ok || len(data) == 0 {
		return "", false, nil
	}
	return domain.RoomID(data), true, nil
}
