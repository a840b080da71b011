package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahflow/agent/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 12, 14, 10, 0, 0, 0, time.UTC)

	first := models.RunRecord{
		ID:          uuid.NewString(),
		SourcePath:  "/watch/a.xml",
		PatientName: "游閔暘",
		StoreID:     "12",
		Success:     true,
		MovedTo:     "/watch/processed/a.xml",
		StartedAt:   base,
		FinishedAt:  base.Add(40 * time.Second),
	}
	second := models.RunRecord{
		ID:         uuid.NewString(),
		SourcePath: "/watch/b.xml",
		Success:    false,
		Kind:       models.ErrorKindPatientNotFound,
		Message:    "no patient matched name=王大同",
		MovedTo:    "/watch/failed/b.xml",
		StartedAt:  base.Add(time.Minute),
		FinishedAt: base.Add(2 * time.Minute),
	}
	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, models.ErrorKindPatientNotFound, records[0].Kind)
	assert.Contains(t, records[0].Message, "王大同")
	assert.Equal(t, first.ID, records[1].ID)
	assert.True(t, records[1].Success)
	assert.Equal(t, "游閔暘", records[1].PatientName)
}

func TestStoreGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := models.RunRecord{
		ID:         uuid.NewString(),
		SourcePath: "/watch/a.xml",
		Success:    false,
		Kind:       models.ErrorKindSubmit,
		Message:    "儲存失敗",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	require.NoError(t, store.Record(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ErrorKindSubmit, got.Kind)
	assert.Equal(t, "儲存失敗", got.Message)

	missing, err := store.Get(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreRecentLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := models.RunRecord{
			ID:         uuid.NewString(),
			SourcePath: "/watch/x.xml",
			Success:    true,
			StartedAt:  time.Now().Add(time.Duration(i) * time.Minute),
			FinishedAt: time.Now().Add(time.Duration(i)*time.Minute + time.Second),
		}
		require.NoError(t, store.Record(ctx, rec))
	}

	records, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestStoreReopenKeepsRecords(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.duckdb")

	store, err := Open(dbPath)
	require.NoError(t, err)
	rec := models.RunRecord{
		ID:         uuid.NewString(),
		SourcePath: "/watch/a.xml",
		Success:    true,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	require.NoError(t, store.Record(context.Background(), rec))
	require.NoError(t, store.Close())

	reopened, err := Open(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
}
