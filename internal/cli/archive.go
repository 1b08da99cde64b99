package cli

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/FranksOps/primp/internal/storage"
	"github.com/FranksOps/primp/internal/storage/csvbackend"
	"github.com/FranksOps/primp/internal/storage/jsonbackend"
	"github.com/FranksOps/primp/internal/storage/postgres"
	"github.com/FranksOps/primp/internal/storage/sqlite"
)

// openArchive picks a backend from the DSN. Postgres URLs go to Postgres,
// .jsonl/.ndjson and .csv paths to flat files, and anything else is a SQLite
// path with an optional sqlite:// prefix.
func openArchive(ctx context.Context, dsn string) (storage.Backend, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.New(ctx, dsn)
	}
	switch strings.ToLower(filepath.Ext(dsn)) {
	case ".jsonl", ".ndjson":
		return jsonbackend.New(dsn)
	case ".csv":
		return csvbackend.New(dsn)
	}
	return sqlite.New(strings.TrimPrefix(dsn, "sqlite://"))
}

// openOptionalArchive is openArchive for an optional flag: "" yields nil.
func openOptionalArchive(ctx context.Context, dsn string) (storage.Backend, error) {
	if dsn == "" {
		return nil, nil
	}
	return openArchive(ctx, dsn)
}
