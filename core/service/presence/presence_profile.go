package presence

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"presence_server/core/domain"
	"presence_server/core/port/out"

	"github.com/goccy/go-json"
)

// ProfileCache holds the public profile, chat handle and last shout time of each user.
type ProfileCache struct {
	store out.KVStore
	opts  Options
}

func NewProfileCache(store out.KVStore, opts Options) *ProfileCache {
	opts.Logger = opts.Logger.With().Str("component", "profile").Logger()
	return &ProfileCache{store: store, opts: opts}
}

// GetUsername returns the cached display handle.
func (p *ProfileCache) GetUsername(ctx context.Context, userID domain.UserID) (string, bool, error) {
	if err := validateUser(userID); err != nil {
		return "", false, err
	}
	data, ok, err := p.store.Get(ctx, p.opts.Keys.Handle(string(userID)))
	if err != nil {
		return "", false, fmt.Errorf("get username for %s: %w", userID, err)
	}
	if !ok || len(data) == 0 {
		return "", false, nil
	}
	return string(data), true, nil
}

// GetPublicProfile returns the cached profile. A malformed entry reads as absent.
func (p *ProfileCache) GetPublicProfile(ctx context.Context, userID domain.UserID) (domain.Profile, bool, error) {
	if err := validateUser(userID); err != nil {
		return domain.Profile{}, false, err
	}
	key := p.opts.Keys.Profile(string(userID))
	data, ok, err := p.store.Get(ctx, key)
	if err != nil {
		return domain.Profile{}, false, fmt.Errorf("get profile for %s: %w", userID, err)
	}
	if !ok || bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		return domain.Profile{}, false, nil
	}
	var profile domain.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		p.opts.decodeFailed(KindProfile, key, data, err)
		return domain.Profile{}, false, nil
	}
	return profile, true, nil
}

// SetPublicProfile overwrites the profile and the handle in one transaction.
func (p *ProfileCache) SetPublicProfile(ctx context.Context, userID domain.UserID, profile domain.Profile) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	profile.Username = domain.NormalizeUsername(profile.Username)
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile for %s: %w", userID, err)
	}
	items := map[string][]byte{
		p.opts.Keys.Profile(string(userID)): data,
		p.opts.Keys.Handle(string(userID)):  []byte(profile.Username),
	}
	if err := p.store.SetMulti(ctx, items); err != nil {
		return fmt.Errorf("set profile for %s: %w", userID, err)
	}
	return nil
}

func (p *ProfileCache) RecordShout(ctx context.Context, userID domain.UserID) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	data, err := encodeTimestamp(p.opts.now())
	if err != nil {
		return fmt.Errorf("encode shout time: %w", err)
	}
	if err := p.store.Set(ctx, p.opts.Keys.Shout(string(userID)), data); err != nil {
		return fmt.Errorf("record shout for %s: %w", userID, err)
	}
	return nil
}

// GetLastShout returns when the user last shouted. ok is false if never.
func (p *ProfileCache) GetLastShout(ctx context.Context, userID domain.UserID) (time.Time, bool, error) {
	if err := validateUser(userID); err != nil {
		return time.Time{}, false, err
	}
	key := p.opts.Keys.Shout(string(userID))
	data, ok, err := p.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last shout for %s: %w", userID, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := decodeTimestamp(data)
	if err != nil {
		p.opts.decodeFailed(KindShout, key, data, err)
		return time.Time{}, false, nil
	}
	if ts.IsZero() {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}
