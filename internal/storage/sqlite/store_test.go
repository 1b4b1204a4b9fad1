package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
)

func TestSQLiteStore_RecordAndList(t *testing.T) {
	// Use in-memory SQLite with shared cache for testing
	store, err := New("file:outcomes1?mode=memory&cache=shared")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	records := []*storage.Outcome{
		{RequestID: "a", Status: storage.StatusResolved, Duration: 120 * time.Millisecond, CreatedAt: created},
		{RequestID: "b", Status: storage.StatusExpired, Error: "correlation: wait budget exceeded", Duration: 15 * time.Second},
		{RequestID: "c", Status: storage.StatusForwardFailed, Error: "webhook returned status 502"},
	}
	for _, o := range records {
		require.NoError(t, store.RecordOutcome(ctx, o))
	}

	got, err := store.ListOutcomes(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "c", got[0].RequestID, "newest first")
	assert.Equal(t, "correlation: wait budget exceeded", got[1].Error)
	assert.Equal(t, 15*time.Second, got[1].Duration)
	assert.True(t, got[2].CreatedAt.Equal(created), "CreatedAt = %v, want %v", got[2].CreatedAt, created)
}

func TestSQLiteStore_ListFilters(t *testing.T) {
	store, err := New("file:outcomes2?mode=memory&cache=shared")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, st := range []storage.Status{
		storage.StatusResolved,
		storage.StatusUnknownCallback,
		storage.StatusResolved,
		storage.StatusResolved,
	} {
		require.NoError(t, store.RecordOutcome(ctx, &storage.Outcome{RequestID: "x", Status: st}))
	}

	got, err := store.ListOutcomes(ctx, storage.ListOptions{Status: storage.StatusResolved, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, o := range got {
		assert.Equal(t, storage.StatusResolved, o.Status)
	}

	unknown, err := store.ListOutcomes(ctx, storage.ListOptions{Status: storage.StatusUnknownCallback})
	require.NoError(t, err)
	assert.Len(t, unknown, 1)
}

func TestSQLiteStore_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "outcomes.db")

	store, err := New(path)
	require.NoError(t, err)

	require.NoError(t, store.RecordOutcome(context.Background(), &storage.Outcome{RequestID: "p", Status: storage.StatusCanceled}))
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ListOutcomes(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p", got[0].RequestID)
}
