package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// PostgresStore implements Store on a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection and migrates the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			number INTEGER NOT NULL,
			status TEXT NOT NULL,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			total_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			final_output TEXT,
			steps JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_completed ON pipeline_runs(completed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// IndexRun upserts a run record.
func (s *PostgresStore) IndexRun(ctx context.Context, rec domain.RunRecord) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (run_id, mode, number, status, success, total_time_ms, created_at, completed_at, final_output, steps)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id) DO UPDATE SET
			mode = $2, number = $3, status = $4, success = $5, total_time_ms = $6,
			created_at = $7, completed_at = $8, final_output = $9, steps = $10`,
		rec.RunID, string(rec.Mode), rec.Number, string(rec.Status), rec.Success, rec.TotalTimeMs,
		rec.CreatedAt, rec.CompletedAt, rec.FinalOutput, steps,
	)
	if err != nil {
		return fmt.Errorf("failed to index run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = $1`, runID)
	rec, err := scanPgRun(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// SearchRuns lists the most recently completed runs.
func (s *PostgresStore) SearchRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY completed_at DESC NULLS LAST LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search runs: %w", err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		rec, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CountRuns returns the number of persisted runs.
func (s *PostgresStore) CountRuns(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pipeline_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// GetSyncState reads a sync-state value.
func (s *PostgresStore) GetSyncState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM sync_state WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get sync state: %w", err)
	}
	return value, true, nil
}

// SetSyncState writes a sync-state value, replacing any previous one.
func (s *PostgresStore) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}

func scanPgRun(row pgx.Row) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var mode, status string
	var completedAt *time.Time
	var finalOutput *string
	var steps []byte
	if err := row.Scan(&rec.RunID, &mode, &rec.Number, &status, &rec.Success, &rec.TotalTimeMs,
		&rec.CreatedAt, &completedAt, &finalOutput, &steps); err != nil {
		return nil, err
	}
	rec.Mode = domain.Mode(mode)
	rec.Status = domain.RunStatus(status)
	if completedAt != nil {
		rec.CompletedAt = *completedAt
	}
	if finalOutput != nil {
		rec.FinalOutput = *finalOutput
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &rec.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps of run %s: %w", rec.RunID, err)
		}
	}
	return &rec, nil
}
