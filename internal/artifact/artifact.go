package artifact

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"crypto-etl/internal/config"
	"crypto-etl/internal/market"
)

// Artifact keys published by each pipeline stage.
const (
	KeyExtracted   = "extracted-data"
	KeyTransformed = "transformed-data"
	KeyLoaded      = "loaded-data"
)

// Table is a named tabular preview attached to a pipeline run.
type Table struct {
	Key         string
	Description string
	Columns     []string
	Records     []market.Record
}

// NewTable previews at most rows leading records of batch.
func NewTable(key, description string, batch market.Batch, rows int) Table {
	head := batch.Head(rows)
	return Table{
		Key:         key,
		Description: description,
		Columns:     head.Columns,
		Records:     head.Records,
	}
}

// Publisher emits artifacts. Failures never affect the pipeline outcome.
type Publisher interface {
	Publish(ctx context.Context, table Table) error
}

// LogPublisher writes artifacts to the structured log.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher builds a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "artifact").Logger()}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, table Table) error {
	p.logger.Info().
		Str("key", table.Key).
		Str("description", table.Description).
		Int("rows", len(table.Records)).
		Int("columns", len(table.Columns)).
		Msg("artifact published")

	if p.logger.Debug().Enabled() {
		for _, rec := range table.Records {
			p.logger.Debug().Str("key", table.Key).Fields(map[string]any(rec)).Msg("artifact row")
		}
	}
	return nil
}

// Multi fans an artifact out to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, table Table) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, table); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New assembles the configured publishers. The log publisher is always present.
func New(cfg config.ArtifactsConfig, logger zerolog.Logger) Publisher {
	publishers := Multi{NewLogPublisher(logger)}
	if cfg.Telegram.Enabled {
		publishers = append(publishers, NewTelegramPublisher(TelegramOptions{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			BaseURL:  cfg.Telegram.APIBase,
			Timeout:  cfg.Telegram.Timeout,
			Keys:     []string{KeyLoaded},
		}, logger))
	}
	return publishers
}

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = Multi(nil)
)
