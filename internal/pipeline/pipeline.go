package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crypto-etl/internal/archive"
	"crypto-etl/internal/artifact"
	"crypto-etl/internal/fetcher"
	"crypto-etl/internal/market"
	"crypto-etl/internal/storage"
)

// Transformer enriches a fetched batch.
type Transformer interface {
	Apply(batch market.Batch) (market.Batch, error)
}

// Loader persists a transformed batch.
type Loader interface {
	Load(ctx context.Context, batch market.Batch) (storage.LoadResult, error)
}

// Options tune a Pipeline.
type Options struct {
	PreviewRows int
	Now         func() time.Time
}

// Report summarises one cycle.
type Report struct {
	CycleID     string
	StartedAt   time.Time
	Extracted   int
	Transformed int
	Loaded      int
	// Recovered holds stage and side-channel failures that did not abort the cycle.
	Recovered []error
}

// Pipeline runs Fetch, Transform and Load once per cycle.
type Pipeline struct {
	fetcher     fetcher.MarketsFetcher
	transformer Transformer
	loader      Loader
	archiver    archive.Archiver
	publisher   artifact.Publisher
	opts        Options
	logger      zerolog.Logger
}

// New wires the stages. Nil archiver or publisher disable those side channels.
func New(f fetcher.MarketsFetcher, t Transformer, l Loader, a archive.Archiver, p artifact.Publisher, opts Options, logger zerolog.Logger) *Pipeline {
	if a == nil {
		a = archive.Nop{}
	}
	if p == nil {
		p = artifact.Multi{}
	}
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		fetcher:     f,
		transformer: t,
		loader:      l,
		archiver:    a,
		publisher:   p,
		opts:        opts,
		logger:      logger.With().Str("component", "pipeline").Logger(),
	}
}

// RunCycle executes one cycle and returns only fatal errors.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	_, err := p.Execute(ctx)
	return err
}

// Execute runs Fetch, Transform and Load exactly once. Stages run even on an empty batch.
// A fetch failure degrades to an empty batch; transform and load failures are fatal.
func (p *Pipeline) Execute(ctx context.Context) (Report, error) {
	started := time.Now()
	report := Report{CycleID: uuid.NewString(), StartedAt: p.opts.Now().UTC()}
	logger := p.logger.With().Str("cycle_id", report.CycleID).Logger()
	logger.Info().Msg("cycle started")

	batch := p.extract(ctx, logger, &report)
	report.Extracted = batch.Len()

	transformed, err := p.transform(ctx, logger, &report, batch)
	if err != nil {
		logger.Error().Err(err).Msg("cycle aborted")
		return report, err
	}
	report.Transformed = transformed.Len()

	if err := p.load(ctx, logger, &report, transformed); err != nil {
		logger.Error().Err(err).Msg("cycle aborted")
		return report, err
	}

	logger.Info().
		Int("extracted", report.Extracted).
		Int("transformed", report.Transformed).
		Int("loaded", report.Loaded).
		Int("recovered_errors", len(report.Recovered)).
		Dur("elapsed", time.Since(started)).
		Msg("cycle finished")
	return report, nil
}

func (p *Pipeline) extract(ctx context.Context, logger zerolog.Logger, report *Report) market.Batch {
	batch, raw, err := p.fetcher.FetchMarkets(ctx)
	if err != nil {
		p.noteRecovered(logger, report, NewRecoverable(StageExtract, err))
		return market.Batch{}
	}
	logger.Info().Str("stage", string(StageExtract)).Int("rows", batch.Len()).Int("columns", len(batch.Columns)).Msg("stage complete")

	if raw != nil {
		if key, err := p.archiver.ArchiveRaw(ctx, report.StartedAt, raw); err != nil {
			p.noteRecovered(logger, report, err)
		} else if key != "" {
			logger.Info().Str("key", key).Msg("raw payload archived")
		}
	}

	p.publish(ctx, logger, report, artifact.NewTable(artifact.KeyExtracted, "Raw markets snapshot", batch, p.opts.PreviewRows))
	return batch
}

func (p *Pipeline) transform(ctx context.Context, logger zerolog.Logger, report *Report, batch market.Batch) (market.Batch, error) {
	if batch.Empty() {
		logger.Warn().Str("stage", string(StageTransform)).Msg("empty batch, nothing to transform")
	}

	transformed, err := p.transformer.Apply(batch)
	if err != nil {
		return market.Batch{}, NewFatal(StageTransform, err)
	}
	logger.Info().Str("stage", string(StageTransform)).Int("rows", transformed.Len()).Int("columns", len(transformed.Columns)).Msg("stage complete")

	if !transformed.Empty() {
		if key, err := p.archiver.ArchiveTransformed(ctx, report.StartedAt, transformed); err != nil {
			p.noteRecovered(logger, report, err)
		} else if key != "" {
			logger.Info().Str("key", key).Msg("transformed batch archived")
		}
	}

	p.publish(ctx, logger, report, artifact.NewTable(artifact.KeyTransformed, "Transformed markets snapshot", transformed, p.opts.PreviewRows))
	return transformed, nil
}

func (p *Pipeline) load(ctx context.Context, logger zerolog.Logger, report *Report, batch market.Batch) error {
	result, err := p.loader.Load(ctx, batch)
	if err != nil {
		return NewFatal(StageLoad, err)
	}
	report.Loaded = result.Rows
	logger.Info().Str("stage", string(StageLoad)).Int("rows", result.Rows).Strs("dropped_columns", result.Dropped).Msg("stage complete")

	p.publish(ctx, logger, report, artifact.NewTable(artifact.KeyLoaded, "Rows written to crypto_data", batch, p.opts.PreviewRows))
	return nil
}

func (p *Pipeline) publish(ctx context.Context, logger zerolog.Logger, report *Report, table artifact.Table) {
	if err := p.publisher.Publish(ctx, table); err != nil {
		p.noteRecovered(logger, report, err)
	}
}

func (p *Pipeline) noteRecovered(logger zerolog.Logger, report *Report, err error) {
	report.Recovered = append(report.Recovered, err)
	logger.Warn().Err(err).Msg("recoverable failure")
}
