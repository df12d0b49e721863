package presence

import (
	"bytes"
	"strconv"
	"time"

	"presence_server/core/domain"
	"presence_server/pkg/apperr"
	"presence_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var jsonNull = []byte("null")

// Options carries the collaborators shared by every presence component.
type Options struct {
	Keys    Keys
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// decodeFailed records a value that could not be parsed. The caller treats
// the entity as empty or absent.
func (o Options) decodeFailed(kind KeyKind, key string, data []byte, err error) {
	o.Metrics.DecodeFailure(kind.String())
	o.Logger.Warn().
		Err(err).
		Str("key", key).
		Str("kind", kind.String()).
		Int("bytes", len(data)).
		Msg("malformed cached value, treating as empty")
}

func encodeUserIDs(ids []domain.UserID) ([]byte, error) {
	return json.Marshal(dedupe(ids))
}

// decodeUserIDs accepts a JSON array of strings. A stored JSON null is an empty set.
func decodeUserIDs(data []byte) ([]domain.UserID, error) {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		return []domain.UserID{}, nil
	}
	var ids []domain.UserID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return dedupe(ids), nil
}

// dedupe drops repeated ids, keeping first occurrences in order. Never returns nil.
func dedupe(ids []domain.UserID) []domain.UserID {
	return lo.Uniq(ids)
}

func containsUser(ids []domain.UserID, u domain.UserID) bool {
	return lo.Contains(ids, u)
}

func withoutUser(ids []domain.UserID, u domain.UserID) []domain.UserID {
	return lo.Without(ids, u)
}

// Heartbeats are epoch milliseconds.
func encodeMillis(t time.Time) []byte {
	return strconv.AppendInt(nil, t.UnixMilli(), 10)
}

func decodeMillis(data []byte) (time.Time, error) {
	ms, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Shout timestamps are JSON strings ("2006-01-02T15:04:05.000Z").
func encodeTimestamp(t time.Time) ([]byte, error) {
	return json.Marshal(t.UTC())
}

func decodeTimestamp(data []byte) (time.Time, error) {
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func validateUser(u domain.UserID) error {
	if u == "" {
		return apperr.InvalidInput("user_id", "must not be empty")
	}
	return nil
}

func validateRoom(r domain.RoomID) error {
	if r == "" {
		return apperr.InvalidInput("room_id", "must not be empty")
	}
	return nil
}
