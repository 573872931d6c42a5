package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"crypto-etl/internal/market"
)

const (
	stagingTable = "crypto_data_staging"

	createStagingSQL = `CREATE TEMP TABLE crypto_data_staging
    (LIKE crypto_data INCLUDING DEFAULTS)
    ON COMMIT DROP;`

	listColumnsSQL = `SELECT column_name
    FROM information_schema.columns
    WHERE table_schema = current_schema()
      AND table_name = $1
    ORDER BY ordinal_position;`

	tableExistsSQL = `SELECT to_regclass($1) IS NOT NULL;`

	topByMarketCapSQL = `SELECT *
    FROM crypto_data
    ORDER BY market_cap DESC NULLS LAST
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	undefinedTableCode = "42P01"
)

// Postgres stores crypto_data in PostgreSQL through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ Backend        = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)

// NewPostgres wires a pgx pool into a Postgres backend.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Postgres) getPool() (*pgxpool.Pool, error) {
	if p == nil || p.pool == nil {
		return nil, ErrNotConfigured
	}
	return p.pool, nil
}

// EnsureSchema applies the embedded postgres migrations when crypto_data does not exist.
// An existing table is left exactly as it is.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	exists, err := p.TableExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func(db *sql.DB) { _ = db.Close() }(db)

	if _, err := migrate(ctx, db, goose.DialectPostgres, "postgres"); err != nil {
		return err
	}
	return nil
}

// Columns lists the live columns of crypto_data in ordinal order.
func (p *Postgres) Columns(ctx context.Context) ([]string, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listColumnsSQL, TableName)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, ErrTableNotFound
	}
	return columns, nil
}

// TableExists reports whether crypto_data is visible on the search path.
func (p *Postgres) TableExists(ctx context.Context) (bool, error) {
	pool, err := p.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if err := pool.QueryRow(ctx, tableExistsSQL, TableName).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table: %w", err)
	}
	return exists, nil
}

// Upsert copies records into a transaction-scoped staging table and merges them into
// crypto_data, updating only the given columns on conflict.
func (p *Postgres) Upsert(ctx context.Context, columns []string, records []market.Record) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, createStagingSQL); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = recordValues(rec, columns)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stagingTable}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy into staging: %w", err)
	}

	if _, err := tx.Exec(ctx, buildMergeSQL(TableName, stagingTable, columns)); err != nil {
		return fmt.Errorf("merge staging: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// TopByMarketCap returns up to limit rows ordered by market_cap descending.
func (p *Postgres) TopByMarketCap(ctx context.Context, limit int) ([]market.Record, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, topByMarketCapSQL, limit)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("query top by market cap: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	records := make([]market.Record, 0, limit)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := make(market.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = values[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, ErrTableNotFound
		}
		return nil, err
	}
	return records, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (p *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock dies with the connection if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// buildMergeSQL moves staged rows into target. Columns other than id are overwritten on
// conflict; table columns outside the list keep their stored values.
func buildMergeSQL(target, staging string, columns []string) string {
	quoted := make([]string, len(columns))
	updates := make([]string, 0, len(columns))
	for i, col := range columns {
		ident := pgx.Identifier{col}.Sanitize()
		quoted[i] = ident
		if col == market.ColID {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
	}

	list := strings.Join(quoted, ", ")
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s)\n", pgx.Identifier{target}.Sanitize(), list)
	fmt.Fprintf(&b, "SELECT %s FROM %s\n", list, pgx.Identifier{staging}.Sanitize())
	fmt.Fprintf(&b, "ON CONFLICT (%s) ", pgx.Identifier{market.ColID}.Sanitize())
	if len(updates) == 0 {
		b.WriteString("DO NOTHING;")
		return b.String()
	}
	b.WriteString("DO UPDATE SET\n    ")
	b.WriteString(strings.Join(updates, ",\n    "))
	b.WriteString(";")
	return b.String()
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode
}
