package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"crypto-etl/internal/market"
)

// ErrNoKeyColumn is returned when neither the batch nor the table carries the id column.
var ErrNoKeyColumn = errors.New("storage: batch has no writable id column")

// LoadResult summarises one load.
type LoadResult struct {
	Rows    int
	Columns []string
	Dropped []string
}

// Loader persists transformed batches into the backend.
type Loader struct {
	backend Backend
	logger  zerolog.Logger
}

// NewLoader builds a Loader around backend.
func NewLoader(backend Backend, logger zerolog.Logger) *Loader {
	return &Loader{
		backend: backend,
		logger:  logger.With().Str("component", "loader").Logger(),
	}
}

// Load ensures the table exists, writes the batch columns the table knows about, and
// upserts every record by id. An empty batch is a no-op.
func (l *Loader) Load(ctx context.Context, batch market.Batch) (LoadResult, error) {
	if batch.Empty() {
		l.logger.Warn().Msg("empty batch, nothing to load")
		return LoadResult{}, nil
	}
	if l.backend == nil {
		return LoadResult{}, ErrNotConfigured
	}

	if err := l.backend.EnsureSchema(ctx); err != nil {
		return LoadResult{}, fmt.Errorf("ensure schema: %w", err)
	}

	tableColumns, err := l.backend.Columns(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("introspect table: %w", err)
	}

	write, dropped := intersectColumns(batch.Columns, tableColumns)
	if !contains(write, market.ColID) {
		return LoadResult{}, ErrNoKeyColumn
	}
	if len(dropped) > 0 {
		l.logger.Warn().Strs("dropped", dropped).Msg("batch columns not in table")
	}

	if err := l.backend.Upsert(ctx, write, batch.Records); err != nil {
		return LoadResult{}, fmt.Errorf("upsert batch: %w", err)
	}

	l.logger.Info().
		Int("rows", batch.Len()).
		Int("columns", len(write)).
		Msg("batch loaded")

	return LoadResult{Rows: batch.Len(), Columns: write, Dropped: dropped}, nil
}

// intersectColumns keeps batch order. Columns missing from the table are returned as dropped.
func intersectColumns(batchColumns, tableColumns []string) (write, dropped []string) {
	known := make(map[string]struct{}, len(tableColumns))
	for _, col := range tableColumns {
		known[col] = struct{}{}
	}
	seen := make(map[string]struct{}, len(batchColumns))
	for _, col := range batchColumns {
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		if _, ok := known[col]; ok {
			write = append(write, col)
		} else {
			dropped = append(dropped, col)
		}
	}
	return write, dropped
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
