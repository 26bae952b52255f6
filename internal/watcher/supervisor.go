package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EthDevOps/k8s-service-trigger/internal/trigger"
)

const defaultRestartDelay = 5 * time.Second

// SupervisorOptions configures the restart behavior.
type SupervisorOptions struct {
	// RestartDelay is the fixed wait between a watch failure and the next
	// attempt. Default: 5 seconds.
	RestartDelay time.Duration

	// MaxRestarts caps the number of restarts; 0 restarts forever. The cap
	// exists for tests, production runs unbounded under the cluster's own
	// restart policy.
	MaxRestarts int

	// Sleep waits for the restart delay. Returns false when the context was
	// cancelled during the wait. Test hook; default is a timer.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Supervisor restarts the watch loop after every failure with a fixed delay.
// It is the only layer that converts a failure into a retry.
type Supervisor struct {
	logger *zap.Logger
	run    func(ctx context.Context) error
	opts   SupervisorOptions
}

// NewSupervisor creates a Supervisor around the given watch function.
func NewSupervisor(logger *zap.Logger, run func(ctx context.Context) error, opts SupervisorOptions) *Supervisor {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultRestartDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Supervisor{
		logger: logger.Named("supervisor"),
		run:    run,
		opts:   opts,
	}
}

// Run invokes the watch loop and restarts it on failure until the context is
// cancelled or the restart cap is reached. A nil return from the watch loop
// is treated as a failure too: the stream must not end under normal
// operation.
func (s *Supervisor) Run(ctx context.Context) error {
	restarts := 0
	for {
		err := s.run(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Supervisor stopped")
			return nil
		}
		if err == nil {
			err = errors.New("watch loop ended unexpectedly")
		}

		restarts++
		if s.opts.MaxRestarts > 0 && restarts >= s.opts.MaxRestarts {
			return fmt.Errorf("service watch failed after %d attempts: %w", restarts, err)
		}

		s.logger.Error("Service watch failed, restarting",
			zap.Error(err),
			zap.Duration("delay", s.opts.RestartDelay),
			zap.Int("restarts", restarts),
		)
		trigger.CountWatchRestart()

		if !s.opts.Sleep(ctx, s.opts.RestartDelay) {
			s.logger.Info("Supervisor stopped")
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
