package out

import (
	"context"
	"time"

	"presence_server/core/domain"
)

// UpdateFunc computes the next value of a key from its current value.
// exists is false when the key is absent. Returning write=false leaves the key untouched.
type UpdateFunc func(current []byte, exists bool) (next []byte, write bool, err error)

// KVStore is the outbound port for the presence key-value cache.
//
// Absence is reported through the bool result and is never an error.
// Errors returned by implementations are transport failures (see apperr.IsTransient)
// or exhausted optimistic updates (apperr.IsConflict).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error

	// SetMulti writes all items in one transaction.
	SetMulti(ctx context.Context, items map[string][]byte) error

	// Update applies fn as a conditional read-modify-write on a single key,
	// retrying when a concurrent writer changed the key in between.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	Ping(ctx context.Context) error
}

// Locker provides a best-effort distributed mutex.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// PresenceEventPublisher fans presence transitions out to listeners.
type PresenceEventPublisher interface {
	PublishPresence(ctx context.Context, event *domain.PresenceEvent) error
}
