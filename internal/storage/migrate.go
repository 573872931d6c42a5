package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

//go:embed migrations
var migrationsFS embed.FS

// migrate applies the embedded migrations for one dialect and returns the versions applied.
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) ([]int64, error) {
	fsys, err := fs.Sub(migrationsFS, path.Join("migrations", dir))
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", dir, err)
	}

	opts, err := providerOptions(dialect)
	if err != nil {
		return nil, err
	}

	provider, err := goose.NewProvider(dialect, db, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	applied := make([]int64, 0, len(results))
	for _, res := range results {
		if res.Source != nil {
			applied = append(applied, res.Source.Version)
		}
	}
	return applied, nil
}

// providerOptions serialises concurrent migrators on postgres with a session advisory lock.
func providerOptions(dialect goose.Dialect) ([]goose.ProviderOption, error) {
	if dialect != goose.DialectPostgres {
		return nil, nil
	}
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("create migration locker: %w", err)
	}
	return []goose.ProviderOption{goose.WithSessionLocker(locker)}, nil
}
