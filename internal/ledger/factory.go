package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Options selects and configures a ledger backend.
type Options struct {
	Backend     string
	DatasetDir  string
	DatabaseURL string
	SQLitePath  string
}

// NewStore creates the configured backend; CSV files under DatasetDir by default.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendCSV:
		return NewCSVStore(opts.DatasetDir)
	case BackendPostgres:
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, fmt.Errorf("ledger backend postgres requires a database url")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case BackendSQLite:
		path := opts.SQLitePath
		if strings.TrimSpace(path) == "" {
			path = filepath.Join(opts.DatasetDir, "ledger.sqlite")
		}
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", opts.Backend)
	}
}
