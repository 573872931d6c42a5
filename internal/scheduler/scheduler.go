package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned for a non-positive interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// TickFunc is invoked once per due slot with the slot start time.
type TickFunc func(ctx context.Context, slot time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToInterval fires on wall-clock multiples of Interval instead of relative to start.
	AlignToInterval bool
	// RunImmediately fires one tick before waiting for the first slot.
	RunImmediately bool
	StartupDelay   time.Duration
}

// Scheduler drives periodic pipeline cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Run blocks, invoking tick at every slot until ctx is cancelled. Tick errors are logged
// and never stop the loop; a slot that overruns the next one is skipped rather than queued.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.fire(ctx, tick, time.Now().UTC())
	}

	next := s.nextSlot(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextSlot(time.Now().UTC())
			delay = time.Until(next)
		}

		s.logger.Debug().Time("next_slot", next).Msg("waiting for next slot")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		s.fire(ctx, tick, s.slotStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, slot time.Time) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info().Time("slot", slot).Msg("executing scheduled tick")
	if err := tick(ctx, slot); err != nil {
		s.logger.Error().Err(err).Time("slot", slot).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextSlot(now time.Time) time.Time {
	if !s.opts.AlignToInterval {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.AlignToInterval {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
