package store

import (
	"context"
	"fmt"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string // postgres, mongo, sqlite or memory
	DatabaseURL string
	MongoURL    string
	MongoDB     string
	SQLitePath  string
}

// Open connects the backend named by opts.Backend. Postgres migrations are
// applied before the pool is opened.
func Open(ctx context.Context, opts Options) (DataStore, error) {
	switch opts.Backend {
	case "postgres":
		if err := RunMigrations(ctx, opts.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case "mongo":
		return NewMongoStore(ctx, opts.MongoURL, opts.MongoDB)
	case "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotConfigured, opts.Backend)
	}
}
