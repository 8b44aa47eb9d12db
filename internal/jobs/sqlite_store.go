package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/reelcaster/internal/common"
)

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY when the progress store shares the file.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		trigger_name TEXT NOT NULL,
		stage TEXT NOT NULL,
		outcome TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateRun(run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.ID == "" {
		return errors.New("run.ID is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Stage == "" {
		run.Stage = StageQueued
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, kind, trigger_name, stage, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), string(run.Trigger), string(run.Stage), formatTime(run.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkRunning(id string, startedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE runs SET stage = ?, started_at = ? WHERE id = ?`,
		string(StageRunning), formatTime(startedAt), id)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveResult(id, outcome string, completedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE runs
		SET stage = ?, outcome = ?, error_message = NULL, completed_at = ?
		WHERE id = ?`,
		string(StageCompleted), outcome, formatTime(completedAt), id,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveError(id, outcome, errMsg string, completedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE runs
		SET stage = ?, outcome = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		string(StageFailed), outcome, errMsg, formatTime(completedAt), id,
	)
	if err != nil {
		return fmt.Errorf("save error: %w", err)
	}
	return nil
}

const selectRun = `SELECT id, kind, trigger_name, stage, outcome, error_message, created_at, started_at, completed_at FROM runs`

func (s *SQLiteStore) GetRun(id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow(selectRun+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(selectRun+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var kind, trigger, stage string
	var outcome, errMsg, started, completed sql.NullString
	var created string
	if err := row.Scan(&run.ID, &kind, &trigger, &stage, &outcome, &errMsg, &created, &started, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Kind = Kind(kind)
	run.Trigger = Trigger(trigger)
	run.Stage = Stage(stage)
	run.Outcome = outcome.String
	if errMsg.Valid {
		v := errMsg.String
		run.ErrorMessage = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		run.CreatedAt = t
	}
	run.StartedAt = parseOptionalTime(started)
	run.CompletedAt = parseOptionalTime(completed)
	return &run, nil
}

func parseOptionalTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
