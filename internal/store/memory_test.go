package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costlens/advisor/internal/models"
	"github.com/costlens/advisor/internal/store"
)

func createReport(t *testing.T, st *store.MemoryStore) models.Report {
	t.Helper()
	rep, err := st.CreateReport(context.Background(), store.ReportInput{
		ReportType:    models.ReportTypeCost,
		DataSource:    models.DataSourceFileUpload,
		SourceFileKey: "uploads/x.csv",
	})
	require.NoError(t, err)
	return rep
}

func TestTransitionVersionGuard(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	rep := createReport(t, st)

	// First claim wins.
	claimed, err := st.Transition(ctx, rep.ID, models.StatusUploaded, models.StatusProcessing, rep.Version)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, claimed.Status)
	assert.Equal(t, rep.Version+1, claimed.Version)
	assert.NotNil(t, claimed.StartedAt)

	// A second worker holding the stale version loses.
	_, err = st.Transition(ctx, rep.ID, models.StatusUploaded, models.StatusProcessing, rep.Version)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	rep := createReport(t, st)

	require.NoError(t, st.Fail(ctx, rep.ID, "boom"))

	got, err := st.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)

	// A failed report never re-enters processing.
	_, err = st.Transition(ctx, rep.ID, models.StatusFailed, models.StatusProcessing, got.Version)
	assert.ErrorIs(t, err, store.ErrConflict)

	// Nor can it be failed or cancelled again.
	assert.ErrorIs(t, st.Fail(ctx, rep.ID, "again"), store.ErrConflict)
	_, err = st.Cancel(ctx, rep.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCancelNonTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	rep := createReport(t, st)

	got, err := st.Cancel(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestManualEntrySentinel(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	rep := createReport(t, st)

	saved, err := st.InsertRecommendation(ctx, models.Recommendation{
		ReportID:       rep.ID,
		RowNumber:      models.ManualEntryRow,
		Category:       models.CategoryCost,
		BusinessImpact: models.ImpactLow,
		Recommendation: "manually entered",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ManualEntryRow, saved.RowNumber)

	recs, err := st.ListRecommendations(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ManualEntryRow, recs[0].RowNumber)
}

func TestIncrementRetry(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	rep := createReport(t, st)

	for want := 1; want <= 3; want++ {
		got, err := st.IncrementRetry(ctx, rep.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
