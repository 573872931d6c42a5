package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"crypto-etl/internal/web"
)

// Once executes a single pipeline cycle. It is the entry point for external orchestrators.
func (a *App) Once(ctx context.Context) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := a.newPipeline(ctx, backend)
	if err != nil {
		return err
	}

	report, err := p.Execute(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "cycle %s: extracted=%d transformed=%d loaded=%d recovered_errors=%d\n",
		report.CycleID, report.Extracted, report.Transformed, report.Loaded, len(report.Recovered))
	return nil
}

// Run executes scheduled cycles until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := a.newRunner(ctx, backend)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting scheduled pipeline")
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduled pipeline stopped")
	return nil
}

// Serve runs the read API only.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.newWebServer(backend).ListenAndServe(ctx)
}

// Up ensures the schema, then runs scheduled cycles and the read API together. The web
// server starts once the store reports ready.
func (a *App) Up(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := backend.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	runner, err := a.newRunner(ctx, backend)
	if err != nil {
		return err
	}
	server := a.newWebServer(backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := runner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		readyCtx, cancelReady := context.WithTimeout(gctx, a.Config.Web.ReadyTimeout)
		err := web.WaitReady(readyCtx, backend, a.Config.Web.ReadyPoll)
		cancelReady()
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("store not ready: %w", err)
		}
		return server.ListenAndServe(gctx)
	})

	a.Logger.Info().Str("addr", a.Config.Web.Addr).Msg("pipeline and web service starting")
	return g.Wait()
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := backend.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	fmt.Fprintf(a.Out, "schema ready (%s)\n", a.Config.Database.Driver)
	return nil
}
