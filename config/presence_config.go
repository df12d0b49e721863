package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateInstanceID creates a unique instance ID using hostname and PID
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "presence"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFile     string
	InstanceID  string

	// Redis
	RedisURL          string
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration

	// Store
	KeyPrefix      string
	OpTimeout      time.Duration
	CASMaxRetries  int
	CASBaseBackoff time.Duration
	CASMaxBackoff  time.Duration

	// Circuit breaker
	BreakerMaxRequests  uint32
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration
	BreakerFailureRatio float64
	BreakerMinRequests  uint32

	// Liveness
	LivenessThreshold time.Duration
	ReapInterval      time.Duration
	ReaperEnabled     bool
	ReaperWorkers     int

	// Events
	EventStream       string
	EventStreamMaxLen int64
	EventsEnabled     bool

	// Rooms known to this deployment, used for presence snapshots
	Rooms []string

	// Rate limiting (per client IP, shared through Redis)
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		InstanceID:  getEnv("INSTANCE_ID", generateInstanceID()),

		// Redis
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPoolSize:     getEnvInt("REDIS_POOL_SIZE", 50),
		RedisMinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 10),
		RedisDialTimeout:  time.Duration(getEnvInt("REDIS_DIAL_TIMEOUT_MS", 5000)) * time.Millisecond,
		RedisReadTimeout:  time.Duration(getEnvInt("REDIS_READ_TIMEOUT_MS", 3000)) * time.Millisecond,
		RedisWriteTimeout: time.Duration(getEnvInt("REDIS_WRITE_TIMEOUT_MS", 3000)) * time.Millisecond,

		// Store
		KeyPrefix:      getEnv("PRESENCE_KEY_PREFIX", ""),
		OpTimeout:      time.Duration(getEnvInt("PRESENCE_OP_TIMEOUT_MS", 2000)) * time.Millisecond,
		CASMaxRetries:  getEnvInt("PRESENCE_CAS_MAX_RETRIES", 10),
		CASBaseBackoff: time.Duration(getEnvInt("PRESENCE_CAS_BASE_BACKOFF_MS", 5)) * time.Millisecond,
		CASMaxBackoff:  time.Duration(getEnvInt("PRESENCE_CAS_MAX_BACKOFF_MS", 200)) * time.Millisecond,

		// Circuit breaker
		BreakerMaxRequests:  uint32(getEnvInt("BREAKER_MAX_REQUESTS", 3)),
		BreakerInterval:     time.Duration(getEnvInt("BREAKER_INTERVAL_SEC", 60)) * time.Second,
		BreakerTimeout:      time.Duration(getEnvInt("BREAKER_TIMEOUT_SEC", 15)) * time.Second,
		BreakerFailureRatio: getEnvFloat("BREAKER_FAILURE_RATIO", 0.6),
		BreakerMinRequests:  uint32(getEnvInt("BREAKER_MIN_REQUESTS", 10)),

		// Liveness
		LivenessThreshold: time.Duration(getEnvInt("LIVENESS_THRESHOLD_SEC", 60)) * time.Second,
		ReapInterval:      time.Duration(getEnvInt("REAP_INTERVAL_SEC", 15)) * time.Second,
		ReaperEnabled:     getEnvBool("REAPER_ENABLED", true),
		ReaperWorkers:     getEnvInt("REAPER_WORKERS", 8),

		// Events
		EventStream:       getEnv("EVENT_STREAM", "presence:events"),
		EventStreamMaxLen: int64(getEnvInt("EVENT_STREAM_MAXLEN", 10000)),
		EventsEnabled:     getEnvBool("EVENTS_ENABLED", true),

		Rooms: getEnvSlice("PRESENCE_ROOMS", []string{"kitchen", "theatre", "bar", "arcade"}),

		// Rate limiting
		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 40),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("PRESENCE_OP_TIMEOUT_MS must be positive")
	}
	if c.CASMaxRetries < 1 {
		return fmt.Errorf("PRESENCE_CAS_MAX_RETRIES must be at least 1")
	}
	if c.LivenessThreshold <= 0 {
		return fmt.Errorf("LIVENESS_THRESHOLD_SEC must be positive")
	}
	if c.ReaperEnabled && c.ReapInterval <= 0 {
		return fmt.Errorf("REAP_INTERVAL_SEC must be positive")
	}
	// a sweep interval longer than the threshold lets stale users linger for
	// more than two thresholds
	if c.ReaperEnabled && c.ReapInterval > c.LivenessThreshold {
		return fmt.Errorf("REAP_INTERVAL_SEC (%s) must not exceed LIVENESS_THRESHOLD_SEC (%s)", c.ReapInterval, c.LivenessThreshold)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
