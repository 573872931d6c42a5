package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"crypto-etl/internal/market"
)

// SQLite stores crypto_data in a local database file through gorm.
type SQLite struct {
	db *gorm.DB
}

var _ Backend = (*SQLite)(nil)

// OpenSQLite opens (creating when needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one writer at a time
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() {
	if s == nil || s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLite) handle() (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// EnsureSchema applies the embedded sqlite migrations when crypto_data does not exist.
// An existing table is left exactly as it is.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if db.WithContext(ctx).Migrator().HasTable(TableName) {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	if _, err := migrate(ctx, sqlDB, goose.DialectSQLite3, "sqlite"); err != nil {
		return err
	}
	return nil
}

// Columns lists the live columns of crypto_data.
func (s *SQLite) Columns(ctx context.Context) ([]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	migrator := db.WithContext(ctx).Migrator()
	if !migrator.HasTable(TableName) {
		return nil, ErrTableNotFound
	}

	types, err := migrator.ColumnTypes(TableName)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	columns := make([]string, len(types))
	for i, ct := range types {
		columns[i] = ct.Name()
	}
	return columns, nil
}

// TableExists reports whether crypto_data has been created.
func (s *SQLite) TableExists(ctx context.Context) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	return db.WithContext(ctx).Migrator().HasTable(TableName), nil
}

// Upsert writes records one statement per row inside a single transaction. Conflicting
// rows have only the given columns replaced.
func (s *SQLite) Upsert(ctx context.Context, columns []string, records []market.Record) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	onConflict := upsertClause(columns)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			values := make(map[string]any, len(columns))
			for i, v := range recordValues(rec, columns) {
				values[columns[i]] = v
			}
			if err := tx.Table(TableName).Clauses(onConflict).Create(values).Error; err != nil {
				return fmt.Errorf("upsert %v: %w", rec.Get(market.ColID), err)
			}
		}
		return nil
	})
}

// TopByMarketCap returns up to limit rows ordered by market_cap descending.
func (s *SQLite) TopByMarketCap(ctx context.Context, limit int) ([]market.Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	tx := db.WithContext(ctx)
	if !tx.Migrator().HasTable(TableName) {
		return nil, ErrTableNotFound
	}

	var rows []map[string]any
	if err := tx.Table(TableName).Order("market_cap DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query top by market cap: %w", err)
	}

	records := make([]market.Record, len(rows))
	for i, row := range rows {
		rec := make(market.Record, len(row))
		for k, v := range row {
			rec[k] = readValue(v)
		}
		records[i] = rec
	}
	return records, nil
}

func upsertClause(columns []string) clause.OnConflict {
	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if col != market.ColID {
			updates = append(updates, col)
		}
	}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: market.ColID}}}
	if len(updates) == 0 {
		onConflict.DoNothing = true
		return onConflict
	}
	onConflict.DoUpdates = clause.AssignmentColumns(updates)
	return onConflict
}

func readValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case sql.RawBytes:
		return string(val)
	default:
		return v
	}
}
