package presence

import (
	"context"
	"fmt"

	"presence_server/core/domain"
	"presence_server/core/port/out"
)

// ActiveUserRegistry tracks the process-wide set of connected users.
//
// The set is stored as one JSON array under a shared key, so every mutation
// goes through KVStore.Update and is retried when two writers race.
type ActiveUserRegistry struct {
	store out.KVStore
	opts  Options
}

func NewActiveUserRegistry(store out.KVStore, opts Options) *ActiveUserRegistry {
	opts.Logger = opts.Logger.With().Str("component", "active_users").Logger()
	return &ActiveUserRegistry{store: store, opts: opts}
}

// GetActiveUsers returns the connected users. An absent or malformed set is empty.
func (r *ActiveUserRegistry) GetActiveUsers(ctx context.Context) ([]domain.UserID, error) {
	key := r.opts.Keys.ActiveUsers()
	data, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get active users: %w", err)
	}
	if !ok {
		return []domain.UserID{}, nil
	}
	return r.decode(key, data), nil
}

// MarkUserActive adds userID to the set unless it is already a member.
func (r *ActiveUserRegistry) MarkUserActive(ctx context.Context, userID domain.UserID) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	key := r.opts.Keys.ActiveUsers()
	err := r.store.Update(ctx, key, func(cur []byte, exists bool) ([]byte, bool, error) {
		users := r.decodeCurrent(key, cur, exists)
		if containsUser(users, userID) {
			return nil, false, nil
		}
		next, err := encodeUserIDs(append(users, userID))
		return next, true, err
	})
	if err != nil {
		return fmt.Errorf("mark %s active: %w", userID, err)
	}
	return nil
}

// RemoveActiveUser drops userID from the set. Removing a non-member is a no-op.
func (r *ActiveUserRegistry) RemoveActiveUser(ctx context.Context, userID domain.UserID) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	key := r.opts.Keys.ActiveUsers()
	err := r.store.Update(ctx, key, func(cur []byte, exists bool) ([]byte, bool, error) {
		users := r.decodeCurrent(key, cur, exists)
		if !containsUser(users, userID) {
			return nil, false, nil
		}
		next, err := encodeUserIDs(withoutUser(users, userID))
		return next, true, err
	})
	if err != nil {
		return fmt.Errorf("remove %s from active users: %w", userID, err)
	}
	return nil
}

// SetActiveUsers overwrites the whole set.
func (r *ActiveUserRegistry) SetActiveUsers(ctx context.Context, users []domain.UserID) error {
	data, err := encodeUserIDs(users)
	if err != nil {
		return fmt.Errorf("encode active users: %w", err)
	}
	if err := r.store.Set(ctx, r.opts.Keys.ActiveUsers(), data); err != nil {
		return fmt.Errorf("set active users: %w", err)
	}
	return nil
}

func (r *ActiveUserRegistry) decodeCurrent(key string, cur []byte, exists bool) []domain.UserID {
	if !exists {
		return []domain.UserID{}
	}
	return r.decode(key, cur)
}

func (r *ActiveUserRegistry) decode(key string, data []byte) []domain.UserID {
	users, err := decodeUserIDs(data)
	if err != nil {
		r.opts.decodeFailed(KindActiveUsers, key, data, err)
		return []domain.UserID{}
	}
	return users
}
