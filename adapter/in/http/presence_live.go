package http

import (
	"bufio"
	"time"

	"presence_server/adapter/out/realtime"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const liveHeartbeatInterval = 25 * time.Second

// =============================================================================
// SSE Handler - 실시간 presence 피드
// =============================================================================

// LiveHandler streams presence events as Server-Sent Events.
type LiveHandler struct {
	hub *realtime.Hub
	log zerolog.Logger
}

// NewLiveHandler creates a new SSE handler.
func NewLiveHandler(hub *realtime.Hub, log zerolog.Logger) *LiveHandler {
	return &LiveHandler{
		hub: hub,
		log: log.With().Str("handler", "sse").Logger(),
	}
}

// Register registers SSE routes.
func (h *LiveHandler) Register(router fiber.Router) {
	router.Get("/presence/live", h.Stream)
	router.Get("/presence/live/status", h.Status)
}

// Stream handles SSE connections.
// GET /api/v1/presence/live
func (h *LiveHandler) Stream(c *fiber.Ctx) error {
	events := h.hub.Subscribe()
	h.log.Info().Int("subscribers", h.hub.SubscriberCount()).Msg("SSE client connected")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // Nginx buffering 비활성화

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(liveHeartbeatInterval)
		defer ticker.Stop()
		defer func() {
			h.hub.Unsubscribe(events)
			h.log.Info().Msg("SSE client disconnected")
		}()

		w.WriteString("event: ready\n")
		w.WriteString("data: {\"status\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}

				data, err := json.Marshal(event)
				if err != nil {
					h.log.Error().Err(err).Msg("failed to serialize event")
					continue
				}

				w.WriteString("event: ")
				w.WriteString(string(event.Type))
				w.WriteString("\n")
				w.WriteString("data: ")
				w.Write(data)
				w.WriteString("\n\n")

				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during write")
					return
				}

			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					h.log.Debug().Err(err).Msg("client disconnected during heartbeat")
					return
				}
			}
		}
	})

	return nil
}

// Status returns live feed statistics.
// GET /api/v1/presence/live/status
func (h *LiveHandler) Status(c *fiber.Ctx) error {
	sent, dropped := h.hub.Stats()
	return c.JSON(fiber.Map{
		"subscribers": h.hub.SubscriberCount(),
		"sent":        sent,
		"dropped":     dropped,
	})
}
