package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"crypto-etl/internal/archive"
	"crypto-etl/internal/artifact"
	"crypto-etl/internal/config"
	"crypto-etl/internal/fetcher"
	"crypto-etl/internal/pipeline"
	"crypto-etl/internal/scheduler"
	"crypto-etl/internal/storage"
	"crypto-etl/internal/transform"
	"crypto-etl/internal/web"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives human-readable command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFetcher() fetcher.MarketsFetcher {
	cg := a.Config.CoinGecko
	return fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:           cg.BaseURL,
		APIKey:            cg.APIKey,
		VsCurrency:        cg.VsCurrency,
		Order:             cg.Order,
		PerPage:           cg.PerPage,
		Page:              cg.Page,
		Sparkline:         cg.Sparkline,
		Timeout:           cg.RequestTimeout,
		UserAgent:         cg.UserAgent,
		RequestsPerMinute: cg.RequestsPerMinute,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	backend, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, nil, fmt.Errorf("database not configured for driver %q: %w", a.Config.Database.Driver, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return backend, backend.Close, nil
}

func (a *App) newPipeline(ctx context.Context, backend storage.Backend) (*pipeline.Pipeline, error) {
	archiver, err := archive.New(ctx, a.Config.Archive, a.Logger)
	if err != nil {
		return nil, err
	}
	if !a.Config.Archive.ArchiveEnabled() {
		a.Logger.Debug().Msg("archival disabled")
	}

	return pipeline.New(
		a.newFetcher(),
		transform.New(nil),
		storage.NewLoader(backend, a.Logger),
		archiver,
		artifact.New(a.Config.Artifacts, a.Logger),
		pipeline.Options{PreviewRows: a.Config.Artifacts.PreviewRows},
		a.Logger,
	), nil
}

func (a *App) newRunner(ctx context.Context, backend storage.Backend) (*pipeline.Runner, error) {
	p, err := a.newPipeline(ctx, backend)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		RunImmediately:  a.Config.Scheduler.RunImmediately,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	return pipeline.NewRunner(p, sched, backend, a.Config.Scheduler.AdvisoryLockKey, a.Logger), nil
}

func (a *App) newWebServer(backend storage.Backend) *web.Server {
	w := a.Config.Web
	return web.NewServer(backend, web.Options{
		Addr:            w.Addr,
		ReadTimeout:     w.ReadTimeout,
		WriteTimeout:    w.WriteTimeout,
		ShutdownTimeout: w.ShutdownTimeout,
		RowLimit:        w.RowLimit,
	}, a.Logger)
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting stored rows.
type ExportOptions struct {
	CSVPath string
	PNGPath string
	MaxRows int
}
