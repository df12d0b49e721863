package bootstrap

import (
	"context"
	"errors"

	"presence_server/pkg/logger"
)

// Runner owns one background loop.
type Runner struct {
	name   string
	run    func(ctx context.Context)
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaperRunner runs the liveness reaper.
func NewReaperRunner(deps *Dependencies) *Runner {
	return &Runner{name: "reaper", run: deps.Reaper.Run}
}

// NewEventRelay tails the presence stream into the live hub. Returns nil when
// events are disabled.
func NewEventRelay(deps *Dependencies) *Runner {
	if deps.Events == nil || deps.Hub == nil {
		return nil
	}
	return &Runner{
		name: "event_relay",
		run: func(ctx context.Context) {
			err := deps.Events.Follow(ctx, 0, deps.Hub.Broadcast)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Event relay stopped")
			}
		},
	}
}

// Start launches the loop in the background.
func (r *Runner) Start() {
	if r == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.run(ctx)
	}()
	logger.Info("Started %s", r.name)
}

// Stop cancels the loop and waits for it to return.
func (r *Runner) Stop() {
	if r == nil || r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	logger.Info("Stopped %s", r.name)
}
