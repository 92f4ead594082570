package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Consecutive failed cycles before the scheduler stretches the interval,
// and the stretched delays. The steps cap at an hour so a dead central
// server costs one request per hour instead of a hammering loop.
const backoffThreshold = 3

const backoffMaxCap = time.Hour

var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// backoffDuration returns the stretched delay for the given consecutive
// failure count, or 0 while under the threshold.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}

// Scheduler drives periodic reconciliation: one sync cycle plus one
// heartbeat per iteration, forever, until the context is cancelled.
type Scheduler struct {
	engine   *Engine
	mode     Mode
	interval time.Duration
	logger   *slog.Logger

	// bootstrap runs once at startup, before the first iteration.
	// The daemon command wires legacy registration here when the device
	// has no API key yet; nil skips.
	bootstrap func(context.Context) error
}

// NewScheduler creates a Scheduler running the given mode every interval.
func NewScheduler(engine *Engine, mode Mode, interval time.Duration, bootstrap func(context.Context) error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		engine:    engine,
		mode:      mode,
		interval:  interval,
		logger:    logger,
		bootstrap: bootstrap,
	}
}

// Run loops until ctx is cancelled, then returns nil. Failed cycles are
// logged and never exit the loop; an invalid license keeps the daemon
// alive so a later revalidation recovers without a restart.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(fmt.Sprintf("Starte Sync-Daemon (Intervall: %ds)", int(s.interval.Seconds())))

	s.runBootstrap(ctx)

	failures := 0

	for {
		s.iterate(ctx, &failures)

		if ctx.Err() != nil {
			s.logger.Info("Sync-Daemon beendet")

			return nil
		}

		delay := s.interval
		if backoff := backoffDuration(failures); backoff > delay {
			delay = backoff
			s.logger.Warn("Sync wiederholt fehlgeschlagen, verlängere Intervall",
				slog.Int("failures", failures),
				slog.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Sync-Daemon beendet")

			return nil
		case <-time.After(delay):
		}
	}
}

// iterate runs one sync cycle and one heartbeat in parallel. The probe
// runs on the parent context so a failed cycle cannot cancel it.
func (s *Scheduler) iterate(ctx context.Context, failures *int) {
	var g errgroup.Group

	g.Go(func() error {
		if _, err := s.engine.Sync(ctx, s.mode); err != nil {
			s.logger.Error(fmt.Sprintf("Sync-Fehler: %v", err))
			*failures++
		} else {
			*failures = 0
		}

		return nil
	})

	g.Go(func() error {
		s.engine.Heartbeat(ctx)

		return nil
	})

	_ = g.Wait()
}

func (s *Scheduler) runBootstrap(ctx context.Context) {
	if s.bootstrap == nil {
		return
	}

	if err := s.bootstrap(ctx); err != nil {
		s.logger.Warn("Legacy-Registrierung fehlgeschlagen", slog.Any("error", err))
	}
}
