package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Reset())
	path := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, Initialize(path))
	t.Cleanup(func() { _ = Reset() })
}

func TestBeginAndFinishBuild(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	id, err := BeginBuild(ctx, "printer-1", "machine", 100)
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, FinishBuild(ctx, id, 100, OutcomeCompleted, ""))

	records, err := RecentBuilds(ctx, "printer-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "completed", records[0].Outcome)
	require.Equal(t, 100, records[0].LinesProcessed)
	require.True(t, records[0].EndedAt.Valid)
}

func TestRecentBuildsOrderingAndLimit(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := BeginBuild(ctx, "printer-1", "machine", 10)
		require.NoError(t, err)
		require.NoError(t, FinishBuild(ctx, id, 10, OutcomeCompleted, ""))
	}

	records, err := RecentBuilds(ctx, "printer-1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.GreaterOrEqual(t, records[0].ID, records[1].ID)
}

func TestFinishBuildRecordsFailureReason(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	id, err := BeginBuild(ctx, "printer-1", "machine", 50)
	require.NoError(t, err)
	require.NoError(t, FinishBuild(ctx, id, 12, OutcomeFailed, "checksum mismatch"))

	records, err := RecentBuilds(ctx, "printer-1", 1)
	require.NoError(t, err)
	require.Equal(t, "checksum mismatch", records[0].FailureReason)
}

func TestGetDBPanicsWithoutInitialize(t *testing.T) {
	require.NoError(t, Reset())
	require.Panics(t, func() { GetDB() })
}
