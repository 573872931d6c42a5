package web

import (
	"context"
	"time"
)

// ReadyChecker reports whether the store can serve reads.
type ReadyChecker interface {
	TableExists(ctx context.Context) (bool, error)
}

// WaitReady polls checker every interval until it reports ready or ctx ends. Check errors
// count as not ready.
func WaitReady(ctx context.Context, checker ReadyChecker, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ok, err := checker.TableExists(ctx); err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
