package storage

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"crypto-etl/internal/market"
)

// TableName is the destination table written by the loader and read by the web API.
const TableName = "crypto_data"

var (
	// ErrNotConfigured indicates the store connection parameters are missing.
	ErrNotConfigured = errors.New("storage: database not configured")
	// ErrTableNotFound indicates the destination table has not been created yet.
	ErrTableNotFound = errors.New("storage: table not found")
)

// Backend is a relational store holding the crypto_data table.
type Backend interface {
	// EnsureSchema creates the table with the base schema when absent. An existing
	// table is never altered.
	EnsureSchema(ctx context.Context) error
	// Columns returns the live column set of the table.
	Columns(ctx context.Context) ([]string, error)
	// Upsert writes records keyed by id, touching only the given columns. The whole
	// call is atomic.
	Upsert(ctx context.Context, columns []string, records []market.Record) error
	// TopByMarketCap returns up to limit rows ordered by market_cap descending.
	TopByMarketCap(ctx context.Context, limit int) ([]market.Record, error)
	// TableExists reports whether the table has been created.
	TableExists(ctx context.Context) (bool, error)
	Close()
}

// AdvisoryLocker exposes cross-process mutual exclusion for pipeline cycles.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// storageValue maps transform output onto driver-friendly values.
func storageValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(encoded)
	default:
		return v
	}
}

func recordValues(rec market.Record, columns []string) []any {
	values := make([]any, len(columns))
	for i, col := range columns {
		values[i] = storageValue(rec.Get(col))
	}
	return values
}
