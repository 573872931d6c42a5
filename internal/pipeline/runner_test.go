package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-etl/internal/market"
)

type countingCycle struct {
	runs int
	err  error
}

func (c *countingCycle) RunCycle(context.Context) error {
	c.runs++
	return c.err
}

type lockingBackend struct {
	acquired bool
	lockErr  error
	unlocked int
	keys     []int64
}

func (b *lockingBackend) EnsureSchema(context.Context) error { return nil }

func (b *lockingBackend) Columns(context.Context) ([]string, error) { return nil, nil }

func (b *lockingBackend) TableExists(context.Context) (bool, error) { return true, nil }

func (b *lockingBackend) Close() {}

func (b *lockingBackend) Upsert(context.Context, []string, []market.Record) error { return nil }

func (b *lockingBackend) TopByMarketCap(context.Context, int) ([]market.Record, error) {
	return nil, nil
}

func (b *lockingBackend) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	b.keys = append(b.keys, key)
	if b.lockErr != nil || !b.acquired {
		return nil, false, b.lockErr
	}
	return func() { b.unlocked++ }, true, nil
}

func TestRunnerTickHoldsLockAroundCycle(t *testing.T) {
	cycle := &countingCycle{}
	backend := &lockingBackend{acquired: true}
	runner := NewRunner(cycle, nil, backend, 99, zerolog.Nop())

	require.NoError(t, runner.Tick(context.Background(), time.Now()))
	assert.Equal(t, 1, cycle.runs)
	assert.Equal(t, []int64{99}, backend.keys)
	assert.Equal(t, 1, backend.unlocked)
}

func TestRunnerTickSkipsWhenLockHeld(t *testing.T) {
	cycle := &countingCycle{}
	runner := NewRunner(cycle, nil, &lockingBackend{acquired: false}, 99, zerolog.Nop())

	require.NoError(t, runner.Tick(context.Background(), time.Now()))
	assert.Zero(t, cycle.runs)
}

func TestRunnerTickLockError(t *testing.T) {
	cycle := &countingCycle{}
	runner := NewRunner(cycle, nil, &lockingBackend{lockErr: errors.New("pool closed")}, 99, zerolog.Nop())

	err := runner.Tick(context.Background(), time.Now())
	assert.ErrorContains(t, err, "acquire advisory lock")
	assert.Zero(t, cycle.runs)
}

func TestRunnerWithoutLockKeyRunsDirectly(t *testing.T) {
	boom := NewFatal(StageLoad, errors.New("boom"))
	cycle := &countingCycle{err: boom}
	backend := &lockingBackend{acquired: true}
	runner := NewRunner(cycle, nil, backend, 0, zerolog.Nop())

	assert.ErrorIs(t, runner.Tick(context.Background(), time.Now()), boom)
	assert.Empty(t, backend.keys)
}

func TestRunnerRunWithoutScheduler(t *testing.T) {
	runner := NewRunner(&countingCycle{}, nil, nil, 0, zerolog.Nop())
	assert.Error(t, runner.Run(context.Background()))
}
