package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/primp/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	final_url TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL,
	profile TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL,
	proto TEXT NOT NULL DEFAULT '',
	headers JSONB NOT NULL,
	body BYTEA,
	duration_ms BIGINT NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS exchanges_created_at_idx ON exchanges (created_at DESC);
`

const columns = `id, url, final_url, method, profile, status_code, proto, headers, body, duration_ms, detected_bot, detection_src, created_at, error`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, ex *storage.Exchange) error {
	headersJSON, err := json.Marshal(ex.Headers)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	query := `INSERT INTO exchanges (` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = b.pool.Exec(ctx, query,
		ex.ID,
		ex.URL,
		ex.FinalURL,
		ex.Method,
		ex.Profile,
		ex.StatusCode,
		ex.Proto,
		headersJSON,
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

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Exchange, error) {
	query := `SELECT ` + columns + ` FROM exchanges WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.URL != "" {
		query += fmt.Sprintf(` AND url = $%d`, paramCount)
		args = append(args, filter.URL)
		paramCount++
	}
	if filter.Profile != "" {
		query += fmt.Sprintf(` AND profile = $%d`, paramCount)
		args = append(args, filter.Profile)
		paramCount++
	}
	if filter.DetectedBot != nil {
		query += fmt.Sprintf(` AND detected_bot = $%d`, paramCount)
		args = append(args, *filter.DetectedBot)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	var results []*storage.Exchange
	for rows.Next() {
		var ex storage.Exchange
		var headersJSON []byte
		var durationMs int64

		err := rows.Scan(
			&ex.ID, &ex.URL, &ex.FinalURL, &ex.Method, &ex.Profile, &ex.StatusCode, &ex.Proto,
			&headersJSON, &ex.Body, &durationMs, &ex.DetectedBot, &ex.DetectionSrc,
			&ex.CreatedAt, &ex.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}

		ex.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal(headersJSON, &ex.Headers); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}

		results = append(results, &ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
