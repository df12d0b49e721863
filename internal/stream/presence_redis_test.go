package stream

import (
	"context"
	"testing"
	"time"

	"presence_server/core/domain"
	"presence_server/pkg/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T, maxLen int64) (*RedisStream, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStream(client, maxLen), mr
}

func TestPresencePublisher_RoundTrip(t *testing.T) {
	s, _ := newTestStream(t, 0)
	pub := NewPresencePublisher(s, "")
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, pub.PublishPresence(ctx, &domain.PresenceEvent{
		Type: domain.PresenceMoved, UserID: "alice", From: "kitchen", To: "bar", Timestamp: ts,
	}))
	require.NoError(t, pub.PublishPresence(ctx, &domain.PresenceEvent{
		Type: domain.PresenceDisconnected, UserID: "alice", From: "bar", Reason: "client", Timestamp: ts,
	}))

	msgs, err := s.Read(ctx, StreamPresence, "-", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "moved", msgs[0].Values["type"])

	first, err := DecodePresence(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("bar"), first.To)
	assert.True(t, first.Timestamp.Equal(ts))

	rest, err := s.Read(ctx, StreamPresence, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	second, err := DecodePresence(rest[0])
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceDisconnected, second.Type)
	assert.Equal(t, "client", second.Reason)
}

func TestRedisStream_CustomName(t *testing.T) {
	s, mr := newTestStream(t, 0)
	pub := NewPresencePublisher(s, "hq:events")

	require.NoError(t, pub.PublishPresence(context.Background(), &domain.PresenceEvent{Type: domain.PresenceConnected, UserID: "bob"}))
	assert.True(t, mr.Exists("hq:events"))
	assert.False(t, mr.Exists(StreamPresence))
}

func TestDecodePresence_Malformed(t *testing.T) {
	_, err := DecodePresence(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	assert.Error(t, err)

	_, err = DecodePresence(redis.XMessage{ID: "1-0", Values: map[string]any{"data": "{"}})
	assert.Error(t, err)
}

func TestPresencePublisher_FailureIsReported(t *testing.T) {
	s, mr := newTestStream(t, 100)
	mr.Close()

	err := NewPresencePublisher(s, "").PublishPresence(context.Background(), &domain.PresenceEvent{Type: domain.PresenceConnected, UserID: "bob"})
	assert.Error(t, err)
}

func TestPresencePublisher_Recent(t *testing.T) {
	s, mr := newTestStream(t, 0)
	pub := NewPresencePublisher(s, "")
	ctx := context.Background()

	for _, u := range []domain.UserID{"alice", "bob", "carol"} {
		require.NoError(t, pub.PublishPresence(ctx, &domain.PresenceEvent{Type: domain.PresenceConnected, UserID: u}))
	}
	_, err := mr.XAdd(StreamPresence, "*", []string{"data", "not json"})
	require.NoError(t, err)

	events, cursor, err := pub.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.UserID("bob"), events[1].UserID)

	events, next, err := pub.Recent(ctx, cursor, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.UserID("carol"), events[0].UserID)
	assert.NotEqual(t, cursor, next)

	events, last, err := pub.Recent(ctx, next, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, next, last)
}

func TestPresencePublisher_FollowFromStart(t *testing.T) {
	s, _ := newTestStream(t, 0)
	pub := NewPresencePublisher(s, "")

	for _, u := range []domain.UserID{"alice", "bob"} {
		require.NoError(t, pub.PublishPresence(context.Background(), &domain.PresenceEvent{Type: domain.PresenceConnected, UserID: u}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.UserID, 4)
	done := make(chan error, 1)
	go func() {
		done <- pub.follow(ctx, "0", 50*time.Millisecond, func(ev *domain.PresenceEvent) {
			got <- ev.UserID
		})
	}()

	assert.Equal(t, domain.UserID("alice"), <-got)
	assert.Equal(t, domain.UserID("bob"), <-got)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("follow did not stop")
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", true},
		{"-", true},
		{"0", true},
		{"1700000000000-0", true},
		{"1700000000000-12", true},
		{"garbage", false},
		{"1-", false},
		{"-1", false},
		{"1-2-3", false},
		{"$", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestPresencePublisher_RecentRejectsMalformedCursor(t *testing.T) {
	s, _ := newTestStream(t, 0)
	pub := NewPresencePublisher(s, "")

	_, _, err := pub.Recent(context.Background(), "garbage", 10)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidInput), "got %v", err)
	assert.False(t, apperr.IsTransient(err))
}

func TestRedisStream_LastID(t *testing.T) {
	s, mr := newTestStream(t, 0)
	ctx := context.Background()

	id, err := s.lastID(ctx, StreamPresence)
	require.NoError(t, err)
	assert.Equal(t, "0-0", id)

	_, err = mr.XAdd(StreamPresence, "5-1", []string{"data", "{}"})
	require.NoError(t, err)
	_, err = mr.XAdd(StreamPresence, "7-0", []string{"data", "{}"})
	require.NoError(t, err)

	id, err = s.lastID(ctx, StreamPresence)
	require.NoError(t, err)
	assert.Equal(t, "7-0", id)
}

func TestPresencePublisher_FollowSurvivesOutage(t *testing.T) {
	s, mr := newTestStream(t, 0)
	pub := NewPresencePublisher(s, "")
	require.NoError(t, pub.PublishPresence(context.Background(), &domain.PresenceEvent{Type: domain.PresenceConnected, UserID: "alice"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan domain.UserID, 4)
	go func() {
		_ = pub.Follow(ctx, 50*time.Millisecond, func(ev *domain.PresenceEvent) {
			got <- ev.UserID
		})
	}()

	// let the follower pin its position, then drop the server while bob connects
	time.Sleep(200 * time.Millisecond)
	mr.Close()
	data, err := json.Marshal(domain.PresenceEvent{Type: domain.PresenceConnected, UserID: "bob"})
	require.NoError(t, err)
	_, err = mr.XAdd(StreamPresence, "*", []string{"type", string(domain.PresenceConnected), "data", string(data)})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, mr.Restart())

	select {
	case u := <-got:
		assert.Equal(t, domain.UserID("bob"), u, "events before Follow are not replayed")
	case <-time.After(3 * time.Second):
		t.Fatal("event published during the outage was lost")
	}
}
