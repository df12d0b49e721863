package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"presence_server/adapter/out/realtime"
	"presence_server/core/domain"
	"presence_server/infra/middleware"
	"presence_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seen = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubQueries struct {
	active    []domain.UserID
	rooms     map[domain.RoomID][]domain.UserID
	locations map[domain.UserID]domain.RoomID
	profiles  map[domain.UserID]domain.Profile
	beats     map[domain.UserID]time.Time
	err       error
}

func (s *stubQueries) ActiveUsers(context.Context) ([]domain.UserID, error) {
	return s.active, s.err
}

func (s *stubQueries) Occupants(_ context.Context, room domain.RoomID) ([]domain.UserID, error) {
	if s.err != nil {
		return nil, s.err
	}
	if occ, ok := s.rooms[room]; ok {
		return occ, nil
	}
	return []domain.UserID{}, nil
}

func (s *stubQueries) Snapshot(ctx context.Context, rooms []domain.RoomID) ([]domain.RoomPresence, error) {
	out := make([]domain.RoomPresence, 0, len(rooms))
	for _, r := range rooms {
		occ, err := s.Occupants(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.RoomPresence{Room: r, Occupants: occ})
	}
	return out, nil
}

func (s *stubQueries) Location(_ context.Context, u domain.UserID) (domain.RoomID, bool, error) {
	r, ok := s.locations[u]
	return r, ok, s.err
}

func (s *stubQueries) Username(_ context.Context, u domain.UserID) (string, bool, error) {
	p, ok := s.profiles[u]
	return p.Username, ok, s.err
}

func (s *stubQueries) PublicProfile(_ context.Context, u domain.UserID) (domain.Profile, bool, error) {
	p, ok := s.profiles[u]
	return p, ok, s.err
}

func (s *stubQueries) LastHeartbeat(_ context.Context, u domain.UserID) (time.Time, bool, error) {
	ts, ok := s.beats[u]
	return ts, ok, s.err
}

func (s *stubQueries) LastShout(context.Context, domain.UserID) (time.Time, bool, error) {
	return time.Time{}, false, s.err
}

type stubEvents struct {
	events []domain.PresenceEvent
	limit  int64
}

func (s *stubEvents) Recent(_ context.Context, cursor string, limit int64) ([]domain.PresenceEvent, string, error) {
	s.limit = limit
	return s.events, cursor + "+", nil
}

type stubPinger struct {
	err   error
	state gobreaker.State
}

func (p stubPinger) Ping(context.Context) error    { return p.err }
func (p stubPinger) BreakerState() gobreaker.State { return p.state }

func newTestApp(q *stubQueries, events EventReader) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.RequestID())
	NewPresenceHandler(q, []domain.RoomID{"kitchen", "bar"}, events).Register(app.Group("/api/v1"))
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
	Meta *struct {
		Total  int    `json:"total"`
		Cursor string `json:"cursor"`
	} `json:"meta"`
}

func doGet(t *testing.T, app *fiber.App, path string) (int, envelope) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(body, &env), "body: %s", body)
	return resp.StatusCode, env
}

func TestPresenceHandler_Collections(t *testing.T) {
	q := &stubQueries{
		active: []domain.UserID{"alice", "bob"},
		rooms:  map[domain.RoomID][]domain.UserID{"bar": {"alice"}},
	}
	app := newTestApp(q, nil)

	tests := []struct {
		name  string
		path  string
		data  string
		total int
	}{
		{"active users", "/api/v1/presence/users", `["alice","bob"]`, 2},
		{"snapshot", "/api/v1/presence/rooms", `[{"room":"kitchen","occupants":[]},{"room":"bar","occupants":["alice"]}]`, 2},
		{"one room", "/api/v1/presence/rooms/bar", `{"room":"bar","occupants":["alice"]}`, -1},
		{"unknown room", "/api/v1/presence/rooms/cellar", `{"room":"cellar","occupants":[]}`, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := doGet(t, app, tt.path)
			assert.Equal(t, 200, status)
			assert.True(t, env.Success)
			assert.JSONEq(t, tt.data, string(env.Data))
			if tt.total >= 0 {
				require.NotNil(t, env.Meta)
				assert.Equal(t, tt.total, env.Meta.Total)
			}
		})
	}
}

func TestPresenceHandler_UserLookups(t *testing.T) {
	q := &stubQueries{
		locations: map[domain.UserID]domain.RoomID{"alice": "bar"},
		profiles:  map[domain.UserID]domain.Profile{"alice": {Username: "alice", Pronouns: "she/her"}},
		beats:     map[domain.UserID]time.Time{"alice": seen},
	}
	app := newTestApp(q, nil)

	tests := []struct {
		name   string
		path   string
		status int
		data   string
	}{
		{"location", "/api/v1/presence/users/alice/location", 200, `{"user_id":"alice","room":"bar"}`},
		{"profile", "/api/v1/presence/users/alice/profile", 200, `{"username":"alice","pronouns":"she/her"}`},
		{"heartbeat", "/api/v1/presence/users/alice/heartbeat", 200, `{"user_id":"alice","last_heartbeat":"2024-03-01T12:00:00Z"}`},
		{"no location", "/api/v1/presence/users/bob/location", 404, ""},
		{"no profile", "/api/v1/presence/users/bob/profile", 404, ""},
		{"no heartbeat", "/api/v1/presence/users/bob/heartbeat", 404, ""},
		{"no shout", "/api/v1/presence/users/alice/shout", 404, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := doGet(t, app, tt.path)
			assert.Equal(t, tt.status, status)
			if tt.status == 200 {
				assert.JSONEq(t, tt.data, string(env.Data))
				return
			}
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, apperr.CodeNotFound, env.Error.Code)
		})
	}
}

func TestPresenceHandler_TransientFailureIsNotNotFound(t *testing.T) {
	q := &stubQueries{err: apperr.CacheUnavailable("get aliceRoom", errors.New("connection refused"))}
	app := newTestApp(q, nil)

	for _, path := range []string{
		"/api/v1/presence/users",
		"/api/v1/presence/rooms",
		"/api/v1/presence/users/alice/location",
	} {
		status, env := doGet(t, app, path)
		assert.Equal(t, 503, status, path)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, apperr.CodeCacheUnavailable, env.Error.Code, path)
	}
}

func TestPresenceHandler_Events(t *testing.T) {
	ev := &stubEvents{events: []domain.PresenceEvent{{Type: domain.PresenceConnected, UserID: "alice", Timestamp: seen}}}
	app := newTestApp(&stubQueries{}, ev)

	status, env := doGet(t, app, "/api/v1/presence/events?after=1-0&limit=5")
	assert.Equal(t, 200, status)
	assert.Equal(t, int64(5), ev.limit)
	require.NotNil(t, env.Meta)
	assert.Equal(t, "1-0+", env.Meta.Cursor)

	status, env = doGet(t, app, "/api/v1/presence/events?limit=0")
	assert.Equal(t, 400, status)
	assert.Equal(t, apperr.CodeInvalidInput, env.Error.Code)

	status, _ = doGet(t, newTestApp(&stubQueries{}, nil), "/api/v1/presence/events")
	assert.Equal(t, 404, status)
}

func TestPresenceHandler_EventsRejectsMalformedCursor(t *testing.T) {
	ev := &stubEvents{}
	app := newTestApp(&stubQueries{}, ev)

	for _, after := range []string{"garbage", "1-", "-5", "1-2-3"} {
		t.Run(after, func(t *testing.T) {
			status, env := doGet(t, app, "/api/v1/presence/events?after="+after)
			assert.Equal(t, 400, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, apperr.CodeInvalidInput, env.Error.Code)
		})
	}
	assert.Zero(t, ev.limit, "the stream is never read")

	for _, after := range []string{"", "-", "1700000000000", "1700000000000-3"} {
		status, _ := doGet(t, app, "/api/v1/presence/events?after="+after)
		assert.Equal(t, 200, status, "after=%q", after)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		pinger stubPinger
		status int
	}{
		{"healthy", stubPinger{}, 200},
		{"redis down", stubPinger{err: errors.New("dial tcp: refused")}, 503},
		{"breaker open", stubPinger{state: gobreaker.StateOpen}, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHealthHandler(tt.pinger, tt.pinger).Register(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
		})
	}
}

func TestLiveHandler_Status(t *testing.T) {
	hub := realtime.NewHub(zerolog.Nop())
	_ = hub.Subscribe()
	app := fiber.New()
	NewLiveHandler(hub, zerolog.Nop()).Register(app.Group("/api/v1"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/presence/live/status", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"subscribers":1,"sent":0,"dropped":0}`, string(body))
}
