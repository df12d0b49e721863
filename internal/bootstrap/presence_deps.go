package bootstrap

import (
	"presence_server/adapter/out/realtime"
	"presence_server/config"
	"presence_server/core/domain"
	"presence_server/core/port/out"
	"presence_server/core/service/presence"
	"presence_server/infra/database"
	"presence_server/internal/stream"
	"presence_server/pkg/cache"
	"presence_server/pkg/logger"
	"presence_server/pkg/metrics"
	"presence_server/pkg/resilience"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

type Dependencies struct {
	Config   *config.Config
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Cache    *cache.RedisCache
	Events   *stream.PresencePublisher
	Hub      *realtime.Hub
	Presence *presence.Service
	Reaper   *presence.Reaper
	Rooms    []domain.RoomID
}

// NewDependencies connects to Redis and wires the presence components.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	redisClient, err := database.NewRedisWithConfig(cfg.RedisURL, database.RedisConfigFrom(cfg))
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		return nil, nil, err
	}
	logger.Info("Connected to Redis")

	deps := newDependencies(cfg, redisClient)
	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	return deps, cleanup, nil
}

func newDependencies(cfg *config.Config, redisClient *redis.Client) *Dependencies {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := cache.NewRedisCache(redisClient, cacheConfig(cfg), m, logger.Default().Zerolog())

	var events *stream.PresencePublisher
	var hub *realtime.Hub
	var publisher out.PresenceEventPublisher
	if cfg.EventsEnabled {
		events = stream.NewPresencePublisher(stream.NewRedisStream(redisClient, cfg.EventStreamMaxLen), cfg.EventStream)
		hub = realtime.NewHub(logger.Default().Zerolog())
		publisher = events
	}

	svc := presence.NewService(store, publisher, presence.Options{
		Keys:    presence.NewKeys(cfg.KeyPrefix),
		Logger:  logger.Default().Zerolog(),
		Metrics: m,
	})

	rooms := make([]domain.RoomID, 0, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms = append(rooms, domain.RoomID(r))
	}

	return &Dependencies{
		Config:   cfg,
		Redis:    redisClient,
		Registry: reg,
		Metrics:  m,
		Cache:    store,
		Events:   events,
		Hub:      hub,
		Presence: svc,
		Reaper: presence.NewReaper(svc, store, presence.ReaperConfig{
			Interval:  cfg.ReapInterval,
			Threshold: cfg.LivenessThreshold,
			Token:     cfg.InstanceID,
			Workers:   cfg.ReaperWorkers,
		}),
		Rooms: rooms,
	}
}

func cacheConfig(cfg *config.Config) *cache.Config {
	breaker := resilience.DefaultCircuitBreakerConfig("redis")
	breaker.MaxRequests = cfg.BreakerMaxRequests
	breaker.Interval = cfg.BreakerInterval
	breaker.Timeout = cfg.BreakerTimeout
	breaker.FailureRatio = cfg.BreakerFailureRatio
	breaker.MinRequests = cfg.BreakerMinRequests

	return &cache.Config{
		OpTimeout:   cfg.OpTimeout,
		MaxRetries:  cfg.CASMaxRetries,
		BaseBackoff: cfg.CASBaseBackoff,
		MaxBackoff:  cfg.CASMaxBackoff,
		Breaker:     breaker,
	}
}
