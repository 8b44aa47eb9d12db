package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/reelcaster/internal/common"
)

// SQLiteStore keeps progress documents in a SQLite table.
type SQLiteStore struct {
	versionedStore
}

var _ Store = (*SQLiteStore)(nil)

type sqliteDocs struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens (and migrates) the database at path, storing documents in table collection.
func NewSQLiteStore(path, collection string) (*SQLiteStore, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db, collection); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{versionedStore: newVersionedStore(&sqliteDocs{db: db, table: collection})}, nil
}

func migrate(db *sql.DB, table string) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		stream TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	`, table)
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (d *sqliteDocs) load(ctx context.Context, stream string) ([]byte, int64, error) {
	row := d.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT document, version FROM %s WHERE stream = ?`, d.table), stream)
	var doc string
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, fmt.Errorf("stream %q: %w", stream, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("scan record: %w", err)
	}
	return []byte(doc), version, nil
}

func (d *sqliteDocs) insert(ctx context.Context, stream string, doc []byte, updatedAt time.Time) error {
	res, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (stream, document, version, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(stream) DO NOTHING`, d.table),
		stream, string(doc), updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("stream %q already exists: %w", stream, ErrConflict)
	}
	return nil
}

func (d *sqliteDocs) swap(ctx context.Context, stream string, doc []byte, expected int64, updatedAt time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET document = ?, version = version + 1, updated_at = ?
		 WHERE stream = ? AND version = ?`, d.table),
		string(doc), updatedAt.Format(time.RFC3339Nano), stream, expected,
	)
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	return n == 1, nil
}

func (d *sqliteDocs) close() error {
	return d.db.Close()
}
