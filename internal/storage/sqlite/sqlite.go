package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/primp/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	final_url TEXT,
	method TEXT NOT NULL,
	profile TEXT,
	status_code INTEGER NOT NULL,
	proto TEXT,
	headers TEXT NOT NULL,
	body BLOB,
	duration_ms INTEGER NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT,
	created_at DATETIME NOT NULL,
	error TEXT
);
`

const columns = `id, url, final_url, method, profile, status_code, proto, headers, body, duration_ms, detected_bot, detection_src, created_at, error`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, ex *storage.Exchange) error {
	headersJSON, err := json.Marshal(ex.Headers)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	query := `INSERT INTO exchanges (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = b.db.ExecContext(ctx, query,
		ex.ID,
		ex.URL,
		ex.FinalURL,
		ex.Method,
		ex.Profile,
		ex.StatusCode,
		ex.Proto,
		string(headersJSON),
		ex.Body,
		ex.Duration.Milliseconds(),
		ex.DetectedBot,
		ex.DetectionSrc,
		ex.CreatedAt,
		ex.Error,
	)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Exchange, error) {
	query := `SELECT ` + columns + ` FROM exchanges WHERE 1=1`
	args := []any{}

	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.Profile != "" {
		query += ` AND profile = ?`
		args = append(args, filter.Profile)
	}
	if filter.DetectedBot != nil {
		query += ` AND detected_bot = ?`
		args = append(args, *filter.DetectedBot)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	var results []*storage.Exchange
	for rows.Next() {
		var ex storage.Exchange
		var headersJSON string
		var durationMs int64
		var finalURL, profile, proto, detectionSrc, errStr sql.NullString

		err := rows.Scan(
			&ex.ID, &ex.URL, &finalURL, &ex.Method, &profile, &ex.StatusCode, &proto,
			&headersJSON, &ex.Body, &durationMs, &ex.DetectedBot, &detectionSrc,
			&ex.CreatedAt, &errStr,
		)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}

		ex.FinalURL = finalURL.String
		ex.Profile = profile.String
		ex.Proto = proto.String
		ex.DetectionSrc = detectionSrc.String
		ex.Error = errStr.String
		ex.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(headersJSON), &ex.Headers); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}

		results = append(results, &ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
