package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			number INTEGER NOT NULL,
			status TEXT NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			total_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			steps TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_completed ON pipeline_runs(completed_at)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first schema (SQLite has limited ALTER TABLE support).
	return s.ensureColumn("pipeline_runs", "final_output", "ALTER TABLE pipeline_runs ADD COLUMN final_output TEXT")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IndexRun upserts a run record.
func (s *SQLiteStore) IndexRun(ctx context.Context, rec domain.RunRecord) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, mode, number, status, success, total_time_ms, created_at, completed_at, final_output, steps)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			mode = excluded.mode,
			number = excluded.number,
			status = excluded.status,
			success = excluded.success,
			total_time_ms = excluded.total_time_ms,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at,
			final_output = excluded.final_output,
			steps = excluded.steps`,
		rec.RunID, string(rec.Mode), rec.Number, string(rec.Status), rec.Success, rec.TotalTimeMs,
		rec.CreatedAt.UTC(), rec.CompletedAt.UTC(), rec.FinalOutput, string(steps))
	return err
}

const runColumns = `run_id, mode, number, status, success, total_time_ms, created_at, completed_at, final_output, steps`

// GetRun retrieves a run record by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SearchRuns lists the most recently completed runs.
func (s *SQLiteStore) SearchRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CountRuns returns the number of persisted runs.
func (s *SQLiteStore) CountRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipeline_runs`).Scan(&n)
	return n, err
}

// GetSyncState reads a sync-state value.
func (s *SQLiteStore) GetSyncState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSyncState writes a sync-state value, replacing any previous one.
func (s *SQLiteStore) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var mode, status string
	var completedAt sql.NullTime
	var finalOutput, steps sql.NullString
	if err := row.Scan(&rec.RunID, &mode, &rec.Number, &status, &rec.Success, &rec.TotalTimeMs,
		&rec.CreatedAt, &completedAt, &finalOutput, &steps); err != nil {
		return nil, err
	}
	rec.Mode = domain.Mode(mode)
	rec.Status = domain.RunStatus(status)
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	rec.FinalOutput = finalOutput.String
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &rec.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps of run %s: %w", rec.RunID, err)
		}
	}
	return &rec, nil
}
