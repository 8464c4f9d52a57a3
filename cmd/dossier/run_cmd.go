package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Veridian-Labs/dossier/core/pkg/adjudicate"
	"github.com/Veridian-Labs/dossier/core/pkg/bundle"
	"github.com/Veridian-Labs/dossier/core/pkg/config"
	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
	"github.com/Veridian-Labs/dossier/core/pkg/coverage"
	"github.com/Veridian-Labs/dossier/core/pkg/evidence"
	"github.com/Veridian-Labs/dossier/core/pkg/grkb"
	"github.com/Veridian-Labs/dossier/core/pkg/observability"
	"github.com/Veridian-Labs/dossier/core/pkg/proposal"
	"github.com/Veridian-Labs/dossier/core/pkg/qualify"
	"github.com/Veridian-Labs/dossier/core/pkg/render"
	"github.com/Veridian-Labs/dossier/core/pkg/runmgr"
	"github.com/Veridian-Labs/dossier/core/pkg/templates"
	"github.com/Veridian-Labs/dossier/core/pkg/trace"
	"github.com/Veridian-Labs/dossier/core/pkg/workflow"
)

// evidenceFile is the on-disk shape of --evidence input.
type evidenceFile []struct {
	Type       string               `json:"type"`
	Data       map[string]any       `json:"data"`
	Provenance contracts.Provenance `json:"provenance"`
}

// fileTemplates loads one template document from disk, whatever id is asked.
type fileTemplates struct {
	path string
}

func (f fileTemplates) LoadTemplate(ctx context.Context, templateID string) (templates.Template, error) {
	r, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return templates.Load(r)
}

// runRunCmd implements `dossier run`.
//
// Exit codes:
//
//	0 = run completed
//	1 = run failed, was blocked or cancelled
//	2 = bad usage or startup error
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		caseID        string
		templateFile  string
		kbFile        string
		evidenceInput string
		jurisdictions string
		deviceCode    string
		periodStart   string
		periodEnd     string
		descriptor    string
		steps         string
		format        string
		mode          string
		dsn           string
		jsonOutput    bool
	)
	cmd.StringVar(&caseID, "case", "", "Case id (REQUIRED)")
	cmd.StringVar(&templateFile, "template", "", "Path to the template JSON document (REQUIRED)")
	cmd.StringVar(&kbFile, "kb", "", "Path to the obligation knowledge base YAML (REQUIRED)")
	cmd.StringVar(&evidenceInput, "evidence", "", "Path to an evidence JSON file")
	cmd.StringVar(&jurisdictions, "jurisdictions", "EU", "Comma-separated jurisdiction codes")
	cmd.StringVar(&deviceCode, "device", "", "Device code for the reporting period")
	cmd.StringVar(&periodStart, "period-start", "", "Reporting period start (RFC 3339 date)")
	cmd.StringVar(&periodEnd, "period-end", "", "Reporting period end (RFC 3339 date)")
	cmd.StringVar(&descriptor, "descriptor", "", "Case descriptor JSON for constraint applicability (e.g. '{\"risk_class\":\"III\"}')")
	cmd.StringVar(&steps, "steps", "", "Comma-separated subset of steps to run (names or 1-8); empty runs all")
	cmd.StringVar(&format, "format", "pdf", "Render format: pdf or docx")
	cmd.StringVar(&mode, "mode", string(render.ModeAutomated), "Render mode: interactive or automated")
	cmd.StringVar(&dsn, "db", cfg.DatabaseDSN, "SQLite DSN")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the run result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if caseID == "" || templateFile == "" || kbFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --case, --template and --kb are required")
		return 2
	}

	logger := newLogger(stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kb, err := os.Open(kbFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open knowledge base: %v\n", err)
		return 2
	}
	source, err := grkb.Load(kb)
	kb.Close()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load knowledge base: %v\n", err)
		return 2
	}

	req := workflow.RunRequest{
		Case: contracts.WorkflowCase{
			CaseID:        caseID,
			TemplateID:    templateFile,
			Jurisdictions: strings.Split(jurisdictions, ","),
			DeviceCode:    deviceCode,
		},
		RenderFormat: format,
		RenderMode:   render.Mode(mode),
	}
	if req.Case.PeriodStart, err = parseDate(periodStart); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: bad --period-start: %v\n", err)
		return 2
	}
	if req.Case.PeriodEnd, err = parseDate(periodEnd); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: bad --period-end: %v\n", err)
		return 2
	}
	if descriptor != "" {
		if err := json.Unmarshal([]byte(descriptor), &req.Descriptor); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --descriptor: %v\n", err)
			return 2
		}
	}
	if req.RunSteps, err = parseSteps(steps); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if evidenceInput != "" {
		inputs, err := loadEvidence(evidenceInput)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		req.Evidence = inputs
	}

	db, err := openDB(dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer db.Close()

	evidenceStore, err := evidence.NewSQLiteStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	entryStore, err := trace.NewSQLiteEntryStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	caseStore, err := workflow.NewSQLiteCaseStore(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	qualifier, err := qualify.NewQualifier(source, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	store, err := bundle.NewObjectStore(ctx, bundle.StoreConfig{
		Backend:  bundle.Backend(cfg.BundleBackend),
		BaseDir:  cfg.BundleDir,
		Bucket:   cfg.BundleBucket,
		Region:   cfg.BundleRegion,
		Endpoint: cfg.BundleEndpoint,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: bundle store: %v\n", err)
		return 2
	}

	var runs runmgr.Manager = runmgr.NewMemoryManager()
	if cfg.RedisAddr != "" {
		runs = runmgr.NewRedisManager(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
	}

	telemetry := &observability.Provider{}
	if cfg.TelemetryEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		telemetry, err = observability.New(ctx, obsCfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
			return 2
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(shutdownCtx)
		}()
	}

	renderer := render.NewClient(render.NewHTTPRenderer(cfg.RendererEndpoint)).
		WithTimeouts(cfg.InteractiveTimeout, cfg.AutomatedTimeout)

	orch, err := workflow.NewOrchestrator(workflow.Deps{
		Cases:       caseStore,
		Evidence:    evidenceStore,
		Ledger:      trace.NewLedger(entryStore),
		Templates:   fileTemplates{path: templateFile},
		Knowledge:   source,
		Qualifier:   qualifier,
		Proposer:    proposal.NewEngine(),
		Adjudicator: adjudicate.NewEngine(adjudicate.DefaultMinMethodChars),
		Calculator:  coverage.NewCalculator(),
		Runs:        runs,
		Renderer:    renderer,
		Exporter:    bundle.NewExporter(store),
		Telemetry:   telemetry,
		Logger:      logger,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	result, err := orch.Run(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		printRunResult(stdout, result)
	}
	if result.Status != contracts.RunCompleted {
		return 1
	}
	return 0
}

func printRunResult(w io.Writer, result *contracts.RunResult) {
	fmt.Fprintf(w, "Run %s for case %s: %s\n", result.RunID, result.CaseID, result.Status)
	for _, step := range result.Steps {
		line := fmt.Sprintf("  %d. %-16s %s", step.StepID, step.Name, step.Status)
		if step.Message != "" {
			line += "  (" + step.Message + ")"
		}
		fmt.Fprintln(w, line)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", result.Error)
	}
}

func loadEvidence(path string) ([]workflow.EvidenceInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence file: %w", err)
	}
	var file evidenceFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode evidence file: %w", err)
	}
	inputs := make([]workflow.EvidenceInput, 0, len(file))
	for _, e := range file {
		inputs = append(inputs, workflow.EvidenceInput{
			Type:           contracts.EvidenceType(e.Type),
			NormalizedData: e.Data,
			Provenance:     e.Provenance,
		})
	}
	return inputs, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// parseSteps accepts step numbers or names: "1,2,3" or
// "qualify_template,create_case".
func parseSteps(value string) ([]contracts.StepID, error) {
	if value == "" {
		return nil, nil
	}
	byName := map[string]contracts.StepID{}
	for id := contracts.StepQualifyTemplate; id <= contracts.StepExportBundle; id++ {
		byName[id.StepName()] = id
		byName[fmt.Sprintf("%d", id)] = id
	}
	var out []contracts.StepID
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		id, ok := byName[part]
		if !ok {
			return nil, fmt.Errorf("unknown step %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
