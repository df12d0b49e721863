package presence

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"presence_server/core/domain"
	"presence_server/pkg/apperr"
	"presence_server/pkg/cache"
	"presence_server/pkg/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.PresenceEvent
	err    error
}

func (p *recordingPublisher) PublishPresence(_ context.Context, event *domain.PresenceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, *event)
	return nil
}

func (p *recordingPublisher) Events() []domain.PresenceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PresenceEvent(nil), p.events...)
}

type testEnv struct {
	svc   *Service
	store *cache.RedisCache
	mr    *miniredis.Miniredis
	clock *fakeClock
	pub   *recordingPublisher
	reg   *prometheus.Registry
	opts  Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cfg := cache.DefaultConfig()
	cfg.MaxRetries = 100
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.OpTimeout = 10 * time.Second
	store := cache.NewRedisCache(client, cfg, m, zerolog.Nop())

	clock := &fakeClock{now: t0}
	pub := &recordingPublisher{}
	opts := Options{
		Keys:    NewKeys(""),
		Logger:  zerolog.Nop(),
		Metrics: m,
		Clock:   clock.Now,
	}
	return &testEnv{
		svc:   NewService(store, pub, opts),
		store: store,
		mr:    mr,
		clock: clock,
		pub:   pub,
		reg:   reg,
		opts:  opts,
	}
}

func (e *testEnv) raw(t *testing.T, key string) string {
	t.Helper()
	v, err := e.mr.Get(key)
	require.NoError(t, err, "key %s", key)
	return v
}

func (e *testEnv) assertDecodeFailures(t *testing.T, kind string, n int) {
	t.Helper()
	want := `
# HELP presence_decode_failures_total Cached values that failed to decode and were treated as empty.
# TYPE presence_decode_failures_total counter
presence_decode_failures_total{kind="` + kind + `"} ` + strconv.Itoa(n) + `
`
	assert.NoError(t, testutil.GatherAndCompare(e.reg, strings.NewReader(want), "presence_decode_failures_total"))
}

func users(ids ...string) []domain.UserID {
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.UserID(id))
	}
	return out
}

// =============================================================================
// Session facade
// =============================================================================

func TestService_ConnectMarksActiveAndStampsHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Connect(ctx, "alice"))

	active, err := env.svc.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, users("alice"), active)

	ts, ok, err := env.svc.LastHeartbeat(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ts.Equal(t0))

	events := env.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.PresenceConnected, events[0].Type)
	assert.Equal(t, domain.UserID("alice"), events[0].UserID)
	assert.True(t, events[0].Timestamp.Equal(t0))
}

func TestService_AliceWalksFromKitchenToBar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Connect(ctx, "alice"))
	require.NoError(t, env.svc.MoveUser(ctx, "alice", "", "kitchen"))

	kitchen, err := env.svc.Occupants(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, users("alice"), kitchen)

	require.NoError(t, env.svc.MoveUser(ctx, "alice", "kitchen", "bar"))

	kitchen, err = env.svc.Occupants(ctx, "kitchen")
	require.NoError(t, err)
	assert.Empty(t, kitchen)

	bar, err := env.svc.Occupants(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, users("alice"), bar)

	room, ok, err := env.svc.Location(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("bar"), room)

	events := env.pub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, domain.PresenceMoved, events[2].Type)
	assert.Equal(t, domain.RoomID("kitchen"), events[2].From)
	assert.Equal(t, domain.RoomID("bar"), events[2].To)
}

func TestService_DisconnectLeavesRoomButKeepsLocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Connect(ctx, "alice"))
	require.NoError(t, env.svc.Connect(ctx, "bob"))
	require.NoError(t, env.svc.MoveUser(ctx, "alice", "", "kitchen"))
	require.NoError(t, env.svc.MoveUser(ctx, "bob", "", "kitchen"))

	require.NoError(t, env.svc.Disconnect(ctx, "alice"))

	active, err := env.svc.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, users("bob"), active)

	kitchen, err := env.svc.Occupants(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, users("bob"), kitchen)

	room, ok, err := env.svc.Location(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("kitchen"), room)

	events := env.pub.Events()
	last := events[len(events)-1]
	assert.Equal(t, domain.PresenceDisconnected, last.Type)
	assert.Equal(t, domain.RoomID("kitchen"), last.From)
	assert.Equal(t, "client", last.Reason)
}

func TestService_DisconnectUnknownUserIsNoop(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.svc.Disconnect(context.Background(), "ghost"))
	assert.False(t, env.mr.Exists("ghostRoom"))
}

func TestService_PublishFailureDoesNotFailCommand(t *testing.T) {
	env := newTestEnv(t)
	env.pub.err = errors.New("stream down")

	require.NoError(t, env.svc.Connect(context.Background(), "alice"))

	want := `
# HELP presence_event_publish_failures_total Presence events that could not be published.
# TYPE presence_event_publish_failures_total counter
presence_event_publish_failures_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(env.reg, strings.NewReader(want), "presence_event_publish_failures_total"))
}

func TestService_NilPublisher(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.store, nil, env.opts)

	require.NoError(t, svc.Connect(context.Background(), "alice"))
	require.NoError(t, svc.MoveUser(context.Background(), "alice", "", "arcade"))
}

func TestService_ShoutAndHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, ok, err := env.svc.LastShout(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, env.svc.Shout(ctx, "alice"))
	env.clock.Advance(30 * time.Second)
	require.NoError(t, env.svc.Heartbeat(ctx, "alice"))

	shout, ok, err := env.svc.LastShout(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, shout.Equal(t0))

	hb, ok, err := env.svc.LastHeartbeat(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, hb.Equal(t0.Add(30*time.Second)))
}

func TestService_Snapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.MoveUser(ctx, "alice", "", "kitchen"))
	require.NoError(t, env.svc.MoveUser(ctx, "bob", "", "bar"))
	require.NoError(t, env.svc.MoveUser(ctx, "carol", "", "bar"))

	snap, err := env.svc.Snapshot(ctx, []domain.RoomID{"kitchen", "theatre", "bar"})
	require.NoError(t, err)
	assert.Equal(t, []domain.RoomPresence{
		{Room: "kitchen", Occupants: users("alice")},
		{Room: "theatre", Occupants: users()},
		{Room: "bar", Occupants: users("bob", "carol")},
	}, snap)
}

func TestService_SnapshotPropagatesTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Close()

	_, err := env.svc.Snapshot(context.Background(), []domain.RoomID{"kitchen", "bar"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func TestService_RejectsEmptyIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"connect", func() error { return env.svc.Connect(ctx, "") }},
		{"disconnect", func() error { return env.svc.Disconnect(ctx, "") }},
		{"heartbeat", func() error { return env.svc.Heartbeat(ctx, "") }},
		{"shout", func() error { return env.svc.Shout(ctx, "") }},
		{"move without user", func() error { return env.svc.MoveUser(ctx, "", "", "bar") }},
		{"move without room", func() error { return env.svc.MoveUser(ctx, "alice", "kitchen", "") }},
		{"occupants", func() error { _, err := env.svc.Occupants(ctx, ""); return err }},
		{"profile", func() error { return env.svc.SetPublicProfile(ctx, "", domain.Profile{}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeInvalidInput), "got %v", err)
		})
	}
	assert.Empty(t, env.mr.Keys())
}
