package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/Veridian-Labs/dossier/core/pkg/config"
	"github.com/Veridian-Labs/dossier/core/pkg/trace"
)

// runVerifyCmd implements `dossier verify`.
//
// Walks the case's decision trace and recomputes every content hash and
// chain link.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		caseID     string
		dsn        string
		jsonOutput bool
	)
	cmd.StringVar(&caseID, "case", "", "Case id (REQUIRED)")
	cmd.StringVar(&dsn, "db", cfg.DatabaseDSN, "SQLite DSN")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if caseID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --case is required")
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

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(verification)
	} else if verification.Valid {
		fmt.Fprintf(stdout, "OK: trace %s intact (%d entries verified)\n", tctx.TraceID, verification.VerifiedEntries)
	} else {
		fmt.Fprintf(stdout, "BROKEN: trace %s at sequence %d: %s\n", tctx.TraceID, verification.BrokenAt, verification.Error)
	}

	if !verification.Valid {
		return 1
	}
	return 0
}
