package workflow

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

func testCase() *contracts.WorkflowCase {
	return &contracts.WorkflowCase{
		CaseID:        "case-1",
		TemplateID:    "psur-eu",
		Jurisdictions: []string{"EU", "UK"},
		DeviceCode:    "DEV-9",
		PeriodStart:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		Version:       1,
	}
}

func runCaseStoreSuite(t *testing.T, store CaseStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "case-1")
	assert.ErrorIs(t, err, ErrCaseNotFound)

	require.NoError(t, store.Create(ctx, testCase()))

	got, err := store.Get(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "psur-eu", got.TemplateID)
	assert.Equal(t, []string{"EU", "UK"}, got.Jurisdictions)
	assert.Equal(t, 1, got.Version)
	assert.False(t, got.CreatedAt.IsZero())

	got.Version = 2
	got.DeviceCode = "DEV-10"
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "DEV-10", updated.DeviceCode)

	missing := testCase()
	missing.CaseID = "case-2"
	assert.ErrorIs(t, store.Update(ctx, missing), ErrCaseNotFound)
}

func TestMemoryCaseStore(t *testing.T) {
	runCaseStoreSuite(t, NewMemoryCaseStore())
}

func TestSQLiteCaseStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteCaseStore(db)
	require.NoError(t, err)
	runCaseStoreSuite(t, store)
}
