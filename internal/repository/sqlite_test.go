package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func sampleRecord(id string, completed time.Time) domain.RunRecord {
	return domain.RunRecord{
		RunID:       id,
		Mode:        domain.ModePR,
		Number:      95103,
		Status:      domain.RunStatusComplete,
		Success:     true,
		TotalTimeMs: 1234,
		CreatedAt:   completed.Add(-2 * time.Second),
		CompletedAt: completed,
		FinalOutput: "## report",
		Steps: []domain.StepRecord{
			{Agent: domain.StepContextRetrieval, Name: "Context Retriever", Success: true, DurationMs: 1000},
			{Agent: domain.StepConflictResolution, Name: "Conflict Resolver", Success: true, Skipped: true},
		},
	}
}

func TestSQLiteStoreIndexAndGetRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	completed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := sampleRecord("r1", completed)
	if err := store.IndexRun(ctx, rec); err != nil {
		t.Fatalf("IndexRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected run record")
	}
	assert.Equal(t, domain.ModePR, got.Mode)
	assert.Equal(t, domain.RunStatusComplete, got.Status)
	assert.True(t, got.Success)
	assert.Equal(t, int64(1234), got.TotalTimeMs)
	assert.Equal(t, "## report", got.FinalOutput)
	assert.True(t, got.CompletedAt.Equal(completed))
	require.Len(t, got.Steps, 2)
	assert.True(t, got.Steps[1].Skipped)

	missing, err := store.GetRun(ctx, "nope")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown run, got %+v", missing)
	}
}

func TestSQLiteStoreIndexRunIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	rec := sampleRecord("r1", time.Now().UTC())
	require.NoError(t, store.IndexRun(ctx, rec))
	rec.Success = false
	rec.FinalOutput = "second write"
	require.NoError(t, store.IndexRun(ctx, rec))

	n, err := store.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, "second write", got.FinalOutput)
}

func TestSQLiteStoreSearchRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		require.NoError(t, store.IndexRun(ctx, sampleRecord(id, base.Add(offsets[i]))))
	}

	records, err := store.SearchRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "newest", records[0].RunID)
	assert.Equal(t, "middle", records[1].RunID)
	assert.Equal(t, "old", records[2].RunID)

	records, err = store.SearchRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLiteStoreSyncState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	_, ok, err := store.GetSyncState(ctx, "webhook_delivery:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetSyncState(ctx, "webhook_delivery:abc", "run-1"))
	require.NoError(t, store.SetSyncState(ctx, "webhook_delivery:abc", "run-2"))

	value, ok, err := store.GetSyncState(ctx, "webhook_delivery:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "run-2", value)
}

func TestOpenSelectsSQLite(t *testing.T) {
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()
	_, isSQLite := store.(*SQLiteStore)
	assert.True(t, isSQLite)
}

func TestSQLiteStoreMigrateIsRepeatable(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	assert.NoError(t, store.migrate())
}
