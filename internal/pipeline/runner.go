package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-etl/internal/scheduler"
	"crypto-etl/internal/storage"
)

// Cycle is one unit of scheduled work.
type Cycle interface {
	RunCycle(ctx context.Context) error
}

// Runner drives cycles from the scheduler, optionally serialised across processes by a
// postgres advisory lock.
type Runner struct {
	cycle     Cycle
	scheduler *scheduler.Scheduler
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// NewRunner constructs a Runner. The lock is used only when store implements
// storage.AdvisoryLocker and lockKey is non-zero.
func NewRunner(cycle Cycle, sched *scheduler.Scheduler, store storage.Backend, lockKey int64, logger zerolog.Logger) *Runner {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Runner{
		cycle:     cycle,
		scheduler: sched,
		locker:    locker,
		lockKey:   lockKey,
		logger:    logger.With().Str("component", "runner").Logger(),
	}
}

// Run blocks until ctx is cancelled. Failed cycles are logged by the scheduler and the
// next slot proceeds as usual.
func (r *Runner) Run(ctx context.Context) error {
	if r.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return r.scheduler.Run(ctx, r.Tick)
}

// Tick runs one cycle for the given slot unless another process holds the lock.
func (r *Runner) Tick(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		r.logger.Info().Time("slot", slot).Msg("skip slot because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return r.cycle.RunCycle(ctx)
}

func (r *Runner) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.lockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
