package history

import (
	"context"
	"strings"
)

// Options selects a backend. DatabaseURL wins over Path.
type Options struct {
	DatabaseURL string
	Path        string
}

// Open creates a postgres-backed store when DatabaseURL is configured,
// otherwise a SQLite store at Path. An empty Path keeps turns in process memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	if url := strings.TrimSpace(opts.DatabaseURL); url != "" {
		return NewPostgresStore(ctx, url)
	}
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(ctx, path)
}
