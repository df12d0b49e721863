package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"presence_server/core/domain"
	"presence_server/core/port/out"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

const reasonHeartbeatTimeout = "heartbeat_timeout"

// ReaperConfig controls the liveness sweep.
type ReaperConfig struct {
	Interval  time.Duration
	Threshold time.Duration
	// LockTTL bounds how long a crashed instance can hold the sweep lock.
	LockTTL time.Duration
	// Token identifies this instance as lock owner. Generated when empty.
	Token string
	// Workers bounds concurrent per-user checks within a sweep.
	Workers int
}

const (
	defaultReaperWorkers  = 8
	defaultReaperInterval = 15 * time.Second
)

// Reaper disconnects active users whose heartbeat is missing or stale.
// A shared lock keeps concurrent instances from sweeping the same tick.
type Reaper struct {
	svc    *Service
	locker out.Locker
	cfg    ReaperConfig
	opts   Options
}

func NewReaper(svc *Service, locker out.Locker, cfg ReaperConfig) *Reaper {
	if cfg.Token == "" {
		cfg.Token = uuid.NewString()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReaperInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultReaperWorkers
	}
	opts := svc.opts
	opts.Logger = opts.Logger.With().Str("component", "reaper").Str("token", cfg.Token).Logger()
	return &Reaper{svc: svc, locker: locker, cfg: cfg, opts: opts}
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.opts.Logger.Info().
		Dur("interval", r.cfg.Interval).
		Dur("threshold", r.cfg.Threshold).
		Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			r.opts.Logger.Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.opts.Logger.Error().Err(err).Msg("reaper sweep failed")
			}
		}
	}
}

// Sweep runs one pass and returns the number of users disconnected.
// It returns 0 without error when another instance holds the lock.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	lockKey := r.opts.Keys.ReaperLock()
	acquired, err := r.locker.TryLock(ctx, lockKey, r.cfg.Token, r.cfg.LockTTL)
	if err != nil {
		r.opts.Metrics.ReaperSweep("error")
		return 0, err
	}
	if !acquired {
		r.opts.Metrics.ReaperSweep("skipped")
		return 0, nil
	}
	defer func() {
		if err := r.locker.Unlock(context.WithoutCancel(ctx), lockKey, r.cfg.Token); err != nil {
			r.opts.Logger.Warn().Err(err).Msg("failed to release reaper lock")
		}
	}()

	users, err := r.svc.users.GetActiveUsers(ctx)
	if err != nil {
		r.opts.Metrics.ReaperSweep("error")
		return 0, err
	}

	now := r.opts.now()
	pool, err := ants.NewPool(r.cfg.Workers)
	if err != nil {
		r.opts.Metrics.ReaperSweep("error")
		return 0, err
	}
	defer pool.Release()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		reaped int
		errs   []error
	)
	record := func(err error) {
		mu.Lock()
		if err != nil {
			errs = append(errs, err)
		} else {
			reaped++
		}
		mu.Unlock()
	}
	for _, userID := range users {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			reapedUser, err := r.check(ctx, userID, now)
			if err != nil || reapedUser {
				record(err)
			}
		})
		if submitErr != nil {
			wg.Done()
			record(submitErr)
		}
	}
	wg.Wait()

	r.opts.Metrics.Reaped(reaped)
	if len(errs) > 0 {
		r.opts.Metrics.ReaperSweep("error")
		return reaped, errors.Join(errs...)
	}
	r.opts.Metrics.ReaperSweep("ok")
	return reaped, nil
}

// check disconnects userID when its heartbeat is missing or older than the threshold.
func (r *Reaper) check(ctx context.Context, userID domain.UserID, now time.Time) (bool, error) {
	ts, ok, err := r.svc.heartbeats.GetHeartbeat(ctx, userID)
	if err != nil {
		return false, err
	}
	if ok && !IsStale(ts, r.cfg.Threshold, now) {
		return false, nil
	}
	if err := r.svc.disconnect(ctx, userID, reasonHeartbeatTimeout); err != nil {
		return false, err
	}
	r.opts.Logger.Info().
		Str("user_id", userID.String()).
		Bool("had_heartbeat", ok).
		Msg("reaped inactive user")
	return true, nil
}
