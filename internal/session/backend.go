package session

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/mosacloud/drive/migrations"
)

// Options selects and configures a backend.
type Options struct {
	Kind          string // memory, postgres, sqlite, cookie
	DatabaseURL   string
	SQLitePath    string
	MigrationsDir string // empty uses the embedded schema
	Secret        string
	Cookie        CookieOptions
}

// NewBackend builds the backend named by opts.Kind. SQL backends are
// migrated before use.
func NewBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case "", "memory":
		return NewKeyedBackend("memory", NewMemoryRepository(), opts.Cookie), nil
	case "postgres":
		return newSQLBackend(ctx, "postgres", Postgres, opts.DatabaseURL, opts)
	case "sqlite":
		return newSQLBackend(ctx, "sqlite", SQLite, opts.SQLitePath, opts)
	case "cookie":
		return NewCookieBackend(opts.Secret, opts.Cookie)
	}
	return nil, fmt.Errorf("unknown session backend %q", opts.Kind)
}

func newSQLBackend(ctx context.Context, name string, d Dialect, dsn string, opts Options) (Backend, error) {
	repo, err := OpenSQL(d, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s session store: %w", name, err)
	}

	var schema fs.FS = migrations.FS
	if opts.MigrationsDir != "" {
		schema = os.DirFS(opts.MigrationsDir)
	}
	if err := repo.Migrate(ctx, schema); err != nil {
		repo.Close()
		return nil, fmt.Errorf("%s session store: %w", name, err)
	}
	return NewKeyedBackend(name, repo, opts.Cookie), nil
}
