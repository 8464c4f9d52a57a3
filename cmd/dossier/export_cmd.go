package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Veridian-Labs/dossier/core/pkg/bundle"
	"github.com/Veridian-Labs/dossier/core/pkg/config"
	"github.com/Veridian-Labs/dossier/core/pkg/evidence"
	"github.com/Veridian-Labs/dossier/core/pkg/trace"
)

// runExportCmd implements `dossier export`.
//
// Verifies the chain, then writes the case's audit bundle zip (decision
// trace, evidence register, checksummed manifest). With --jsonl the raw
// trace is written instead.
//
// Exit codes:
//
//	0 = exported
//	1 = chain broken, nothing written
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		caseID  string
		dsn     string
		outFile string
		jsonl   bool
	)
	cmd.StringVar(&caseID, "case", "", "Case id (REQUIRED)")
	cmd.StringVar(&dsn, "db", cfg.DatabaseDSN, "SQLite DSN")
	cmd.StringVar(&outFile, "out", "", "Output file; bundle zip requires it, --jsonl defaults to stdout")
	cmd.BoolVar(&jsonl, "jsonl", false, "Write the raw trace as JSONL instead of a bundle zip")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if caseID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --case is required")
		return 2
	}
	if !jsonl && outFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required for bundle export")
		return 2
	}

	db, err := openDB(dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()

	entryStore, err := trace.NewSQLiteEntryStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ledger := trace.NewLedger(entryStore)

	ctx := context.Background()
	tctx, err := ledger.ResumeTrace(ctx, caseID)
	if err != nil {
		if errors.Is(err, trace.ErrNoTrace) {
			_, _ = fmt.Fprintf(stderr, "Error: no trace exists for case %s\n", caseID)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	verification, err := ledger.VerifyChain(ctx, tctx.TraceID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !verification.Valid {
		_, _ = fmt.Fprintf(stderr, "Error: trace %s broken at sequence %d: %s\n",
			tctx.TraceID, verification.BrokenAt, verification.Error)
		return 1
	}

	export, err := ledger.ExportJSONL(ctx, caseID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonl {
		if outFile == "" {
			_, _ = io.WriteString(stdout, export)
			return 0
		}
		if err := os.WriteFile(outFile, []byte(export), 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write %s: %v\n", outFile, err)
			return 2
		}
		fmt.Fprintf(stdout, "Exported %d entries to %s\n", verification.VerifiedEntries, outFile)
		return 0
	}

	evidenceStore, err := evidence.NewSQLiteStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	atoms, err := evidenceStore.ListByCase(ctx, caseID)
	if err != nil && !errors.Is(err, evidence.ErrNoEvidence) {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	b, err := bundle.NewExporter(nil).Build(bundle.Input{
		CaseID:     caseID,
		TraceID:    tctx.TraceID,
		TraceJSONL: []byte(export),
		ChainHead:  tctx.PreviousHash,
		Atoms:      atoms,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: build bundle: %v\n", err)
		return 2
	}
	if err := os.WriteFile(outFile, b.Zip, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write %s: %v\n", outFile, err)
		return 2
	}
	fmt.Fprintf(stdout, "Exported bundle %s (%d entries, sha256 %s) to %s\n",
		b.BundleID, verification.VerifiedEntries, b.Checksum, outFile)
	return 0
}
