package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"presence_server/core/domain"
	"presence_server/core/port/out"
	"presence_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	StreamPresence = "presence:events"

	fieldType = "type"
	fieldData = "data"

	defaultBlock = 5 * time.Second
	tailBatch    = 100
)

type RedisStream struct {
	client *redis.Client
	maxLen int64
}

// NewRedisStream returns a publisher that trims each stream to about maxLen entries.
// maxLen <= 0 disables trimming.
func NewRedisStream(client *redis.Client, maxLen int64) *RedisStream {
	return &RedisStream{
		client: client,
		maxLen: maxLen,
	}
}

func (s *RedisStream) Publish(ctx context.Context, stream, kind string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{fieldType: kind, fieldData: jsonData},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Result()
}

// ValidID reports whether id is usable as a read cursor: empty, "-", or a
// stream entry id of the form <ms> or <ms>-<seq>.
func ValidID(id string) bool {
	if id == "" || id == "-" {
		return true
	}
	ms, seq, found := strings.Cut(id, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if !found {
		return true
	}
	_, err := strconv.ParseUint(seq, 10, 64)
	return err == nil
}

// lastID returns the id of the newest entry, or "0-0" for an empty stream.
func (s *RedisStream) lastID(ctx context.Context, stream string) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// Read returns up to count entries after id ("-" or empty for the beginning).
func (s *RedisStream) Read(ctx context.Context, stream, id string, count int64) ([]redis.XMessage, error) {
	if id == "" || id == "-" {
		return s.client.XRangeN(ctx, stream, "-", "+", count).Result()
	}
	msgs, err := s.client.XRangeN(ctx, stream, id, "+", count+1).Result()
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 && msgs[0].ID == id {
		msgs = msgs[1:]
	}
	if int64(len(msgs)) > count {
		msgs = msgs[:count]
	}
	return msgs, nil
}

// Tail blocks on stream and calls handler for every entry after id ("$" for
// new entries only) until ctx is done. "$" is pinned to the newest entry id
// before the first read so retries after a read error miss nothing.
func (s *RedisStream) Tail(ctx context.Context, stream, id string, block time.Duration, handler func(redis.XMessage)) error {
	if block <= 0 {
		block = defaultBlock
	}
	pause := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(block / 5):
			return nil
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if id == "$" {
			last, err := s.lastID(ctx, stream)
			if err != nil {
				if err := pause(); err != nil {
					return err
				}
				continue
			}
			id = last
		}

		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, id},
			Count:   tailBatch,
			Block:   block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := pause(); err != nil {
				return err
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				id = msg.ID
				handler(msg)
			}
		}
	}
}

// PresencePublisher writes presence transitions to a single stream.
type PresencePublisher struct {
	stream *RedisStream
	name   string
}

var _ out.PresenceEventPublisher = (*PresencePublisher)(nil)

func NewPresencePublisher(stream *RedisStream, name string) *PresencePublisher {
	if name == "" {
		name = StreamPresence
	}
	return &PresencePublisher{stream: stream, name: name}
}

func (p *PresencePublisher) PublishPresence(ctx context.Context, event *domain.PresenceEvent) error {
	if _, err := p.stream.Publish(ctx, p.name, string(event.Type), event); err != nil {
		return fmt.Errorf("publish %s event for %s: %w", event.Type, event.UserID, err)
	}
	return nil
}

// DecodePresence parses an entry written by PresencePublisher.
func DecodePresence(msg redis.XMessage) (*domain.PresenceEvent, error) {
	raw, ok := msg.Values[fieldData].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no %q field", msg.ID, fieldData)
	}
	var event domain.PresenceEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
	}
	return &event, nil
}

// Recent returns up to limit events after cursor and the cursor of the last
// entry read. Entries that fail to decode are skipped.
func (p *PresencePublisher) Recent(ctx context.Context, cursor string, limit int64) ([]domain.PresenceEvent, string, error) {
	if !ValidID(cursor) {
		return nil, cursor, apperr.InvalidInput("after", "must be a stream id such as 1700000000000-0")
	}
	msgs, err := p.stream.Read(ctx, p.name, cursor, limit)
	if err != nil {
		return nil, cursor, fmt.Errorf("read %s: %w", p.name, err)
	}
	events := make([]domain.PresenceEvent, 0, len(msgs))
	for _, msg := range msgs {
		cursor = msg.ID
		event, err := DecodePresence(msg)
		if err != nil {
			continue
		}
		events = append(events, *event)
	}
	return events, cursor, nil
}

// Follow delivers events published after the call to fn until ctx is done.
func (p *PresencePublisher) Follow(ctx context.Context, block time.Duration, fn func(*domain.PresenceEvent)) error {
	return p.follow(ctx, "$", block, fn)
}

func (p *PresencePublisher) follow(ctx context.Context, from string, block time.Duration, fn func(*domain.PresenceEvent)) error {
	return p.stream.Tail(ctx, p.name, from, block, func(msg redis.XMessage) {
		event, err := DecodePresence(msg)
		if err != nil {
			return
		}
		fn(event)
	})
}
