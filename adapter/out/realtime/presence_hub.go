// Package realtime provides real-time communication adapters.
package realtime

import (
	"sync"
	"sync/atomic"

	"presence_server/core/domain"

	"github.com/rs/zerolog"
)

const subscriberBuffer = 256

// =============================================================================
// Presence Hub - SSE 구독자 팬아웃
// =============================================================================

// Hub fans presence events out to in-process subscribers such as SSE connections.
type Hub struct {
	clients map[chan *domain.PresenceEvent]struct{}
	mu      sync.RWMutex
	log     zerolog.Logger

	messagesSent    atomic.Int64
	messagesDropped atomic.Int64
}

// NewHub creates a new hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[chan *domain.PresenceEvent]struct{}),
		log:     log.With().Str("component", "presence_hub").Logger(),
	}
}

// Subscribe creates a new subscription channel.
func (h *Hub) Subscribe() <-chan *domain.PresenceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *domain.PresenceEvent, subscriberBuffer)
	h.clients[ch] = struct{}{}

	h.log.Debug().Int("subscribers", len(h.clients)).Msg("client subscribed")
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (h *Hub) Unsubscribe(ch <-chan *domain.PresenceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c == ch {
			delete(h.clients, c)
			close(c)
			break
		}
	}
	h.log.Debug().Int("subscribers", len(h.clients)).Msg("client unsubscribed")
}

// Broadcast sends event to every subscriber. Slow subscribers drop the event.
func (h *Hub) Broadcast(event *domain.PresenceEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
			h.messagesSent.Add(1)
		default:
			h.messagesDropped.Add(1)
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Str("user_id", event.UserID.String()).
				Msg("dropped event due to full buffer")
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// SubscriberCount returns the number of open subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns delivery counters.
func (h *Hub) Stats() (sent, dropped int64) {
	return h.messagesSent.Load(), h.messagesDropped.Load()
}
