package presence

import (
	"context"
	"fmt"
	"time"

	"presence_server/core/domain"
	"presence_server/core/port/out"
)

// HeartbeatTracker stores the last time each user was seen.
type HeartbeatTracker struct {
	store out.KVStore
	opts  Options
}

func NewHeartbeatTracker(store out.KVStore, opts Options) *HeartbeatTracker {
	opts.Logger = opts.Logger.With().Str("component", "heartbeat").Logger()
	return &HeartbeatTracker{store: store, opts: opts}
}

// RecordHeartbeat stamps userID with the current time.
func (h *HeartbeatTracker) RecordHeartbeat(ctx context.Context, userID domain.UserID) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := h.store.Set(ctx, h.opts.Keys.Heartbeat(string(userID)), encodeMillis(h.opts.now())); err != nil {
		return fmt.Errorf("record heartbeat for %s: %w", userID, err)
	}
	return nil
}

// GetHeartbeat returns the last heartbeat. ok is false if the user never sent one.
func (h *HeartbeatTracker) GetHeartbeat(ctx context.Context, userID domain.UserID) (time.Time, bool, error) {
	if err := validateUser(userID); err != nil {
		return time.Time{}, false, err
	}
	key := h.opts.Keys.Heartbeat(string(userID))
	data, ok, err := h.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get heartbeat for %s: %w", userID, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := decodeMillis(data)
	if err != nil {
		h.opts.decodeFailed(KindHeartbeat, key, data, err)
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

// IsStale reports whether a heartbeat taken at ts is older than threshold at now.
func IsStale(ts time.Time, threshold time.Duration, now time.Time) bool {
	return now.Sub(ts) > threshold
}
