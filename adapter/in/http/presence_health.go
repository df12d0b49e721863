package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sony/gobreaker"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes the cache circuit breaker state.
type BreakerReporter interface {
	BreakerState() gobreaker.State
}

type HealthHandler struct {
	cache   HealthChecker
	breaker BreakerReporter
}

func NewHealthHandler(cache HealthChecker, breaker BreakerReporter) *HealthHandler {
	return &HealthHandler{
		cache:   cache,
		breaker: breaker,
	}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
		allHealthy = false
	}

	if h.breaker != nil {
		state := h.breaker.BreakerState()
		checks["circuit_breaker"] = state.String()
		if state == gobreaker.StateOpen {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
