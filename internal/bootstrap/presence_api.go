package bootstrap

import (
	"strings"

	"presence_server/adapter/in/http"
	"presence_server/infra/middleware"
	"presence_server/pkg/logger"
	"presence_server/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAPI builds the HTTP server over deps.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 2~3배 빠른 JSON 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          64 * 1024,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())         // 1. Panic recovery
	app.Use(middleware.RequestID())       // 2. Request ID
	app.Use(middleware.SecurityHeaders()) // 3. Security headers
	app.Use(middleware.RequestLogger())   // 4. Request logging

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Production without configured origins serves same-origin only.
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" && !cfg.IsProduction() {
		allowOrigins = "http://localhost:3000,http://localhost:5173"
	}
	if allowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:  allowOrigins,
			AllowMethods:  "GET,OPTIONS",
			AllowHeaders:  "Origin,Content-Type,Accept,X-Request-ID",
			ExposeHeaders: "X-Request-ID",
		}))
	}

	http.NewHealthHandler(deps.Cache, deps.Cache).Register(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1", middleware.NoCache())
	if cfg.RateLimitEnabled {
		limiter := ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.KeyPrefix, cfg.RateLimitRPS, cfg.RateLimitBurst)
		api.Use(middleware.RateLimit(limiter))
	}

	var events http.EventReader
	if deps.Events != nil {
		events = deps.Events
	}
	http.NewPresenceHandler(deps.Presence, deps.Rooms, events).Register(api)
	if deps.Hub != nil {
		http.NewLiveHandler(deps.Hub, logger.Default().Component("live")).Register(api)
	}

	logger.Info("API routes registered (%d rooms)", len(deps.Rooms))
	return app
}
