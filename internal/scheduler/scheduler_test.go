package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestNextSlotAligned(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, AlignToInterval: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 6, 1, 10, 17, 0, 0, time.UTC)
	if got, want := s.nextSlot(now), time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next slot = %s, want %s", got, want)
	}
	exact := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if got := s.nextSlot(exact); !got.Equal(exact.Add(time.Hour)) {
		t.Fatalf("slot on boundary should move forward, got %s", got)
	}
}

func TestNextSlotRelative(t *testing.T) {
	s, err := New(Options{Interval: 15 * time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 6, 1, 10, 17, 3, 0, time.UTC)
	if got := s.nextSlot(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("next slot = %s", got)
	}
	if got := s.slotStart(now); !got.Equal(now) {
		t.Fatalf("unaligned slot start should be unchanged, got %s", got)
	}
}

func TestRunImmediatelyAndContinuesAfterErrors(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("cycle failed")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", calls.Load())
	}
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, StartupDelay: time.Hour, RunImmediately: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err = s.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if called {
		t.Fatal("tick must not run before the startup delay elapses")
	}
}
