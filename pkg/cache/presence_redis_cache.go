// Package cache implements the presence key-value store on Redis.
package cache

import (
	"context"
	"errors"
	"net"
	"time"

	"presence_server/core/port/out"
	"presence_server/pkg/apperr"
	"presence_server/pkg/metrics"
	"presence_server/pkg/resilience"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var (
	_ out.KVStore = (*RedisCache)(nil)
	_ out.Locker  = (*RedisCache)(nil)
)

// errUpdateAborted marks an UpdateFunc failure inside a WATCH transaction.
var errUpdateAborted = errors.New("update aborted")

// unlockScript deletes the lock only while it is still held by token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config controls timeouts and optimistic retry.
type Config struct {
	OpTimeout   time.Duration // applied when the caller's context has no deadline
	MaxRetries  int           // optimistic update retries after the first attempt
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Breaker     *resilience.CircuitBreakerConfig
}

// DefaultConfig returns the store defaults.
func DefaultConfig() *Config {
	return &Config{
		OpTimeout:   2 * time.Second,
		MaxRetries:  10,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  200 * time.Millisecond,
		Breaker:     resilience.DefaultCircuitBreakerConfig("redis"),
	}
}

// RedisCache Redis 기반 presence 저장소
type RedisCache struct {
	client  *redis.Client
	config  *Config
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewRedisCache 새 Redis 캐시 생성
func NewRedisCache(client *redis.Client, cfg *Config, m *metrics.Metrics, log zerolog.Logger) *RedisCache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.DefaultCircuitBreakerConfig("redis")
	}

	breakerCfg := *cfg.Breaker
	breakerCfg.IsSuccessful = isBreakerSuccess
	userHook := cfg.Breaker.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		m.BreakerState(name, resilience.StateValue(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	log = log.With().Str("component", "redis_cache").Logger()
	return &RedisCache{
		client:  client,
		config:  cfg,
		breaker: resilience.NewCircuitBreaker(&breakerCfg, log),
		metrics: m,
		log:     log,
	}
}

// isBreakerSuccess keeps misses, optimistic conflicts and caller cancellations
// from tripping the breaker.
func isBreakerSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, redis.Nil) ||
		errors.Is(err, redis.TxFailedErr) ||
		errors.Is(err, errUpdateAborted) ||
		errors.Is(err, context.Canceled)
}

func (c *RedisCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.config.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.OpTimeout)
}

// do runs fn through the circuit breaker and records metrics.
func (c *RedisCache) do(op string, fn func() error) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		result = "miss"
	case errors.Is(err, redis.TxFailedErr):
		result = "conflict"
	default:
		result = "error"
	}
	c.metrics.ObserveCacheOp(op, result, time.Since(start))
	return err
}

// classify maps driver errors onto the application error taxonomy.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(op+" "+key, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Timeout(op+" "+key, err)
	}
	return apperr.CacheUnavailable(op+" "+key, err)
}

// Get returns the raw value stored under key. ok is false when the key is absent.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var data []byte
	err := c.do("get", func() error {
		var err error
		data, err = c.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("get", key, err)
	}
	return data, true, nil
}

// Set 캐시에 값 저장
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.do("set", func() error {
		return c.client.Set(ctx, key, value, 0).Err()
	})
	return classify("set", key, err)
}

// SetMulti 여러 키-값 한번에 저장 (MULTI/EXEC)
func (c *RedisCache) SetMulti(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.do("set_multi", func() error {
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, value := range items {
				pipe.Set(ctx, key, value, 0)
			}
			return nil
		})
		return err
	})
	return classify("set_multi", "", err)
}

// Update runs fn under WATCH and commits with MULTI/EXEC. When another client
// modifies key before EXEC the transaction is discarded and retried with
// exponential backoff until MaxRetries is exhausted.
func (c *RedisCache) Update(ctx context.Context, key string, fn out.UpdateFunc) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var fnErr error
	attempts := 0

	operation := func() error {
		attempts++
		err := c.do("update", func() error {
			return c.client.Watch(ctx, func(tx *redis.Tx) error {
				current, err := tx.Get(ctx, key).Bytes()
				exists := true
				if errors.Is(err, redis.Nil) {
					current, exists = nil, false
				} else if err != nil {
					return err
				}

				next, write, err := fn(current, exists)
				if err != nil {
					fnErr = err
					return errUpdateAborted
				}
				if !write {
					return nil
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, next, 0)
					return nil
				})
				return err
			}, key)
		})

		if errors.Is(err, redis.TxFailedErr) {
			c.metrics.CASConflict()
			c.log.Debug().Str("key", key).Int("attempt", attempts).Msg("optimistic update conflict, retrying")
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(c.newBackoff(), ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errUpdateAborted):
		return fnErr
	case errors.Is(err, redis.TxFailedErr):
		c.log.Warn().Str("key", key).Int("attempts", attempts).Msg("optimistic update gave up")
		return apperr.Conflict("concurrent updates to "+key).
			WithDetail("key", key).
			WithDetail("attempts", attempts)
	default:
		return classify("update", key, err)
	}
}

func (c *RedisCache) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.BaseBackoff
	b.MaxInterval = c.config.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.config.MaxRetries))
}

// TryLock acquires key for ttl if nobody holds it.
func (c *RedisCache) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var acquired bool
	err := c.do("lock", func() error {
		var err error
		acquired, err = c.client.SetNX(ctx, key, token, ttl).Result()
		return err
	})
	if err != nil {
		return false, classify("lock", key, err)
	}
	return acquired, nil
}

// Unlock releases key if it is still held by token.
func (c *RedisCache) Unlock(ctx context.Context, key, token string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.do("unlock", func() error {
		return unlockScript.Run(ctx, c.client, []string{key}, token).Err()
	})
	return classify("unlock", key, err)
}

// Ping checks connectivity. It bypasses the breaker so readiness reflects Redis itself.
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return classify("ping", "", c.client.Ping(ctx).Err())
}

// BreakerState reports the current circuit breaker state.
func (c *RedisCache) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Close 연결 종료
func (c *RedisCache) Close() error {
	return c.client.Close()
}
