package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps progress documents as JSONB rows in Postgres.
type PostgresStore struct {
	versionedStore
}

var _ Store = (*PostgresStore)(nil)

type postgresDocs struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore connects to dsn and ensures the collection table exists.
func NewPostgresStore(ctx context.Context, dsn, collection string) (*PostgresStore, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	poolConf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConf)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		stream TEXT PRIMARY KEY,
		document JSONB NOT NULL,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`, collection)
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &PostgresStore{versionedStore: newVersionedStore(&postgresDocs{pool: pool, table: collection})}, nil
}

func (d *postgresDocs) load(ctx context.Context, stream string) ([]byte, int64, error) {
	var doc string
	var version int64
	err := d.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT document::text, version FROM %s WHERE stream = $1`, d.table),
		stream,
	).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, fmt.Errorf("stream %q: %w", stream, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("scan record: %w", err)
	}
	return []byte(doc), version, nil
}

func (d *postgresDocs) insert(ctx context.Context, stream string, doc []byte, updatedAt time.Time) error {
	tag, err := d.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (stream, document, version, updated_at) VALUES ($1, $2::jsonb, 1, $3)
		 ON CONFLICT (stream) DO NOTHING`, d.table),
		stream, string(doc), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream %q already exists: %w", stream, ErrConflict)
	}
	return nil
}

func (d *postgresDocs) swap(ctx context.Context, stream string, doc []byte, expected int64, updatedAt time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET document = $1::jsonb, version = version + 1, updated_at = $2
		 WHERE stream = $3 AND version = $4`, d.table),
		string(doc), updatedAt, stream, expected,
	)
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (d *postgresDocs) close() error {
	d.pool.Close()
	return nil
}
