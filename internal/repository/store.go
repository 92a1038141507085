// Package repository provides durable storage for completed pipeline runs.
package repository

import (
	"context"
	"strings"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// Store defines the interface for durable run storage.
type Store interface {
	// IndexRun upserts a run record by run id.
	IndexRun(ctx context.Context, rec domain.RunRecord) error
	// GetRun returns nil, nil when the run is unknown.
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	// SearchRuns returns up to limit records, most recently completed first.
	SearchRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
	CountRuns(ctx context.Context) (int, error)

	// Sync state holds one value per key, e.g. processed webhook deliveries.
	GetSyncState(ctx context.Context, key string) (string, bool, error)
	SetSyncState(ctx context.Context, key, value string) error

	Close() error
}

// Open selects the store implementation from the connection string.
// postgres:// and postgresql:// URLs use Postgres; anything else is a SQLite DSN.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(ctx, dsn)
	}
	return NewSQLiteStore(dsn)
}
