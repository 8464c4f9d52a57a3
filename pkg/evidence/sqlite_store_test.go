package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One connection: each pooled connection would otherwise see its own
	// private in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteStoreIdempotentPersist(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(openTestDB(t))
	require.NoError(t, err)

	atoms := makeAtoms(t, "case-1", 40)
	first, err := store.Persist(ctx, "case-1", atoms)
	require.NoError(t, err)
	assert.Equal(t, 40, first.InsertedCount)

	second, err := store.Persist(ctx, "case-1", atoms)
	require.NoError(t, err)
	assert.Equal(t, 0, second.InsertedCount)
	assert.Equal(t, 40, second.SkippedCount)

	listed, err := store.ListByCase(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, listed, 40)
	for i, atom := range listed {
		assert.Equal(t, atoms[i].AtomID, atom.AtomID)
		assert.Equal(t, atoms[i].ContentHash, atom.ContentHash)
	}
}

func TestSQLiteStorePersistCrossesBatchBoundary(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(openTestDB(t))
	require.NoError(t, err)

	// More atoms than one batch holds, with duplicates inside the input.
	n := persistBatchSize + 137
	atoms := make([]contracts.EvidenceAtom, 0, n)
	for i := 0; i < n; i++ {
		atom, err := NewAtom("case-big", contracts.EvidenceSalesRecord,
			map[string]any{"order_ref": fmt.Sprintf("S-%05d", i)}, contracts.Provenance{})
		require.NoError(t, err)
		atoms = append(atoms, *atom)
	}

	res, err := store.Persist(ctx, "case-big", atoms)
	require.NoError(t, err)
	assert.Equal(t, n, res.InsertedCount)

	counts, err := store.CountByType(ctx, "case-big")
	require.NoError(t, err)
	assert.Equal(t, n, counts[contracts.EvidenceSalesRecord])
}

func TestSQLiteStoreRoundTripsPayload(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(openTestDB(t))
	require.NoError(t, err)

	atom, err := NewAtom("case-1", contracts.EvidencePMCFResult,
		map[string]any{"study": "PMCF-7", "enrolled": float64(120)},
		contracts.Provenance{SourceFile: "pmcf.csv", UploadID: "u-1"})
	require.NoError(t, err)

	_, err = store.Persist(ctx, "case-1", []contracts.EvidenceAtom{*atom})
	require.NoError(t, err)

	listed, err := store.ListByCase(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "PMCF-7", listed[0].NormalizedData["study"])
	assert.Equal(t, float64(120), listed[0].NormalizedData["enrolled"])
	assert.Equal(t, "u-1", listed[0].Provenance.UploadID)
}

func TestSQLiteStoreLookupErrorSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS evidence_atoms").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT atom_id FROM evidence_atoms").
		WillReturnError(sql.ErrConnDone)

	atoms := makeAtoms(t, "case-1", 1)
	_, err = store.Persist(context.Background(), "case-1", atoms)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
