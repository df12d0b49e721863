// Package resilience provides fault tolerance patterns for external service calls.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	Name         string        // Name for logging/metrics
	MaxRequests  uint32        // Requests allowed through while half-open
	Interval     time.Duration // Closed-state counter reset interval
	Timeout      time.Duration // Time spent open before probing
	FailureRatio float64       // Trip when failures/requests reaches this ratio...
	MinRequests  uint32        // ...over at least this many requests
	MaxFailures  uint32        // Trip on this many consecutive failures regardless of ratio

	// IsSuccessful classifies errors that must not count against the breaker,
	// such as cache misses. nil counts every error as a failure.
	IsSuccessful func(err error) bool

	// OnStateChange is called after the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      15 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  10,
		MaxFailures:  5,
	}
}

// NewCircuitBreaker builds a gobreaker instance that logs state transitions.
func NewCircuitBreaker(cfg *CircuitBreakerConfig, log zerolog.Logger) *gobreaker.CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig("default")
	}

	settings := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: cfg.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.MaxFailures > 0 && counts.ConsecutiveFailures >= cfg.MaxFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	return gobreaker.NewCircuitBreaker(settings)
}

// StateValue maps a breaker state onto a gauge value.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
