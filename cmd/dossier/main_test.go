package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
	"github.com/Veridian-Labs/dossier/core/pkg/trace"
)

func seedTrace(t *testing.T, dsn, caseID string) {
	t.Helper()
	db, err := openDB(dsn)
	require.NoError(t, err)
	defer db.Close()

	entryStore, err := trace.NewSQLiteEntryStore(db)
	require.NoError(t, err)
	ledger := trace.NewLedger(entryStore)

	ctx := context.Background()
	tctx, err := ledger.StartTrace(ctx, caseID)
	require.NoError(t, err)
	for _, slot := range []string{"s1", "s2", "s3"} {
		_, tctx, err = ledger.Append(ctx, tctx, trace.Event{
			EventType:  contracts.TraceSlotAccepted,
			Actor:      "test",
			EntityType: "slot",
			EntityID:   slot,
			Decision:   "ACCEPTED",
		})
		require.NoError(t, err)
	}
}

func TestRunDispatchUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "frobnicate"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Unknown command")
}

func TestRunDispatchHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "dossier run")
}

func TestVerifyCmdIntactChain(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "dossier.db")
	seedTrace(t, dsn, "case-1")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "verify", "--case", "case-1", "--db", dsn}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "OK")
}

func TestVerifyCmdDetectsTampering(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "dossier.db")
	seedTrace(t, dsn, "case-1")

	db, err := openDB(dsn)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE trace_entries SET decision = 'REJECTED' WHERE sequence_num = 2`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "verify", "--case", "case-1", "--db", dsn}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "BROKEN")
}

func TestVerifyCmdMissingCase(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "dossier.db")
	seedTrace(t, dsn, "case-1")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "verify", "--case", "case-2", "--db", dsn}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "no trace exists")
}

func TestExportCmdWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "dossier.db")
	seedTrace(t, dsn, "case-1")
	out := filepath.Join(dir, "trace.jsonl")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "export", "--case", "case-1", "--db", dsn, "--jsonl", "--out", out}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"sequence_num":1`)
}

func TestExportCmdWritesBundleZip(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "dossier.db")
	seedTrace(t, dsn, "case-1")
	out := filepath.Join(dir, "bundle.zip")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "export", "--case", "case-1", "--db", dsn, "--out", out}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "trace.jsonl")
	assert.Contains(t, names, "manifest.json")
	assert.Contains(t, names, "evidence_register.json")
}

func TestExportCmdRefusesBrokenChain(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "dossier.db")
	seedTrace(t, dsn, "case-1")

	db, err := openDB(dsn)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE trace_entries SET actor = 'intruder' WHERE sequence_num = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out := filepath.Join(dir, "bundle.zip")
	var stdout, stderr bytes.Buffer
	code := Run([]string{"dossier", "export", "--case", "case-1", "--db", dsn, "--out", out}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.NoFileExists(t, out)
}

func TestParseStepsAcceptsNamesAndNumbers(t *testing.T) {
	got, err := parseSteps("1,adjudicate, export_bundle")
	require.NoError(t, err)
	assert.Equal(t, []contracts.StepID{
		contracts.StepQualifyTemplate,
		contracts.StepAdjudicate,
		contracts.StepExportBundle,
	}, got)

	_, err = parseSteps("qualify,9")
	assert.Error(t, err)
}
