package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"dropagent/internal/common"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
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
		filename TEXT NOT NULL,
		correlation_id TEXT,
		action TEXT,
		outcome TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);
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
	_, err := s.db.Exec(
		`INSERT INTO runs (id, filename, correlation_id, action, outcome, error_message, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		run.ID, run.Filename, run.CorrelationID, run.Action, run.Outcome, run.ErrorMessage,
		run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(id, outcome, errMsg string, completedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE runs SET outcome = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		outcome, errMsg, completedAt.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = common.DefaultRecentRuns
	}
	rows, err := s.db.Query(
		`SELECT id, filename, correlation_id, action, outcome, error_message, created_at, completed_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r               Run
			corr, action    sql.NullString
			outcome, errMsg sql.NullString
			createdAt       string
			completedAt     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Filename, &corr, &action, &outcome, &errMsg, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CorrelationID = corr.String
		r.Action = action.String
		r.Outcome = outcome.String
		r.ErrorMessage = errMsg.String
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = ts
		}
		if completedAt.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				r.CompletedAt = &ts
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
