// Package workflow drives a case through the eight ordered steps, from
// template qualification to bundle archiving. Every decision along the way
// lands in the hash-chained trace; progress fans out to subscribers while the
// run executes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veridian-Labs/dossier/core/pkg/adjudicate"
	"github.com/Veridian-Labs/dossier/core/pkg/bundle"
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
)

// actor identifies the orchestrator in trace entries.
const actor = "workflow.orchestrator"

var (
	// ErrMissingDependency is returned by NewOrchestrator for a nil
	// required collaborator.
	ErrMissingDependency = errors.New("workflow: missing dependency")
	// ErrEmptyCaseID is returned by Run for a request without a case id.
	ErrEmptyCaseID = errors.New("workflow: case id must not be empty")
)

// TemplateSource resolves template ids to loaded templates.
type TemplateSource interface {
	LoadTemplate(ctx context.Context, templateID string) (templates.Template, error)
}

// EvidenceInput is one raw evidence payload supplied to a run.
type EvidenceInput struct {
	Type           contracts.EvidenceType
	NormalizedData map[string]any
	Provenance     contracts.Provenance
}

// RunRequest parameterizes one workflow run. An empty RunSteps means all
// eight steps; a subset resumes a case mid-pipeline.
type RunRequest struct {
	Case         contracts.WorkflowCase
	Evidence     []EvidenceInput
	Descriptor   map[string]any
	RenderFormat string
	RenderMode   render.Mode
	RunSteps     []contracts.StepID
}

// Deps wires the orchestrator's collaborators. Renderer, Exporter, Broker,
// Telemetry and Logger are optional.
type Deps struct {
	Cases       CaseStore
	Evidence    evidence.Store
	Ledger      *trace.Ledger
	Templates   TemplateSource
	Knowledge   grkb.Source
	Qualifier   *qualify.Qualifier
	Proposer    *proposal.Engine
	Adjudicator *adjudicate.Engine
	Calculator  *coverage.Calculator
	Runs        runmgr.Manager
	Renderer    *render.Client
	Exporter    *bundle.Exporter
	Broker      *Broker
	Telemetry   *observability.Provider
	Negative    evidence.NegativePolicy
	Logger      *slog.Logger
}

// Orchestrator executes workflow runs.
type Orchestrator struct {
	deps  Deps
	clock func() time.Time
}

// NewOrchestrator validates the wiring and builds an orchestrator.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	required := map[string]bool{
		"cases":       deps.Cases == nil,
		"evidence":    deps.Evidence == nil,
		"ledger":      deps.Ledger == nil,
		"templates":   deps.Templates == nil,
		"knowledge":   deps.Knowledge == nil,
		"qualifier":   deps.Qualifier == nil,
		"proposer":    deps.Proposer == nil,
		"adjudicator": deps.Adjudicator == nil,
		"calculator":  deps.Calculator == nil,
		"runs":        deps.Runs == nil,
	}
	for name, missing := range required {
		if missing {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, name)
		}
	}
	if deps.Broker == nil {
		deps.Broker = NewBroker()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = &observability.Provider{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if len(deps.Negative.EligibleTypes) == 0 {
		deps.Negative = evidence.DefaultNegativePolicy()
	}
	return &Orchestrator{deps: deps, clock: time.Now}, nil
}

// WithClock overrides the timestamp source.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// runState carries per-run artifacts between steps.
type runState struct {
	tctx          *trace.Context
	tpl           templates.Template
	obligations   []contracts.Obligation
	qualification *contracts.QualificationReport
	universe      []contracts.EvidenceAtom
	proposals     []contracts.SlotProposal
	adjudicated   bool
	result        contracts.AdjudicationResult
	coverage      *contracts.CoverageReport
	document      *contracts.RenderedDocument
	bundle        *bundle.Bundle
}

// errRunCancelled marks a step aborted by context cancellation.
var errRunCancelled = errors.New("workflow: run cancelled")

// Run claims the case, executes the requested steps in order and returns the
// final run record. Exactly one run per case executes at a time; a concurrent
// attempt returns runmgr.ErrAlreadyRunning. Run only returns an error when
// the run could not start; step failures are reported in the result.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*contracts.RunResult, error) {
	caseID := req.Case.CaseID
	if caseID == "" {
		return nil, ErrEmptyCaseID
	}

	runID := uuid.NewString()
	if err := o.deps.Runs.Claim(ctx, caseID, runID); err != nil {
		return nil, err
	}
	// Release with a fresh context so cancellation cannot strand the claim.
	defer func() {
		if err := o.deps.Runs.Release(context.Background(), caseID, runID); err != nil {
			o.deps.Logger.Warn("run release failed", "case_id", caseID, "error", err)
		}
	}()

	logger := o.deps.Logger.With("case_id", caseID, "run_id", runID)
	stopRun := o.deps.Telemetry.TrackRun(ctx, caseID)
	defer stopRun()

	tctx, err := o.deps.Ledger.StartOrResume(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("workflow: open trace for %s: %w", caseID, err)
	}

	run := &contracts.RunResult{
		RunID:     runID,
		CaseID:    caseID,
		Status:    contracts.RunRunning,
		Steps:     make([]contracts.WorkflowStep, 0, 8),
		StartedAt: o.clock().UTC(),
	}
	for id := contracts.StepQualifyTemplate; id <= contracts.StepExportBundle; id++ {
		run.Steps = append(run.Steps, contracts.WorkflowStep{
			StepID: id,
			Name:   id.StepName(),
			Status: contracts.StepNotStarted,
		})
	}

	state := &runState{tctx: tctx}
	enabled := stepSet(req.RunSteps)

	o.publish(ctx, run, contracts.ProgressEvent{Kind: contracts.EventWorkflowStarted})
	logger.Info("workflow run started", "steps", len(req.RunSteps))

	for id := contracts.StepQualifyTemplate; id <= contracts.StepExportBundle; id++ {
		step := &run.Steps[int(id)-1]

		if ctx.Err() != nil {
			o.cancelRun(run, step, state, logger)
			break
		}
		if !enabled[id] {
			step.Message = "not requested"
			continue
		}
		if msg := blockedByPredecessor(run.Steps, id); msg != "" {
			o.finishBlocked(ctx, run, step, state, msg)
			continue
		}

		step.Status = contracts.StepRunning
		step.StartedAt = o.clock().UTC()
		o.publish(ctx, run, contracts.ProgressEvent{
			Kind: contracts.EventStepStarted, StepID: id, StepName: step.Name, Status: step.Status,
		})

		stepCtx, finish := o.deps.Telemetry.TrackStep(ctx, caseID, step.Name)
		blocked, err := o.executeStep(stepCtx, id, req, state, step)
		finish(err)

		switch {
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, errRunCancelled)):
			o.cancelRun(run, step, state, logger)
		case err != nil:
			step.Status = contracts.StepFailed
			step.Message = err.Error()
			step.CompletedAt = o.clock().UTC()
			o.appendTrace(ctx, state, trace.Event{
				EventType:  contracts.TraceStepFailed,
				Actor:      actor,
				EntityType: "workflow_step",
				EntityID:   step.Name,
				Decision:   string(contracts.StepFailed),
				Reasons:    []string{err.Error()},
			})
			o.publish(ctx, run, contracts.ProgressEvent{
				Kind: contracts.EventStepFailed, StepID: id, StepName: step.Name,
				Status: step.Status, Message: step.Message,
			})
			logger.Error("workflow step failed", "step", step.Name, "error", err)
		case blocked != "":
			o.finishBlocked(ctx, run, step, state, blocked)
		default:
			step.Status = contracts.StepCompleted
			step.CompletedAt = o.clock().UTC()
			o.appendTrace(ctx, state, trace.Event{
				EventType:  contracts.TraceStepCompleted,
				Actor:      actor,
				EntityType: "workflow_step",
				EntityID:   step.Name,
				Decision:   string(contracts.StepCompleted),
				OutputData: step.Report,
			})
			o.publish(ctx, run, contracts.ProgressEvent{
				Kind: contracts.EventStepCompleted, StepID: id, StepName: step.Name, Status: step.Status,
			})
			logger.Info("workflow step completed", "step", step.Name)
		}
		if run.Status == contracts.RunCancelled {
			break
		}
	}

	if run.Status != contracts.RunCancelled {
		run.Status = contracts.RunCompleted
		for i := range run.Steps {
			s := &run.Steps[i]
			if s.Status == contracts.StepFailed || s.Status == contracts.StepBlocked {
				run.Status = contracts.RunFailed
				if run.Error == "" {
					run.Error = fmt.Sprintf("step %s: %s", s.Name, s.Message)
				}
			}
		}
	}
	run.CompletedAt = o.clock().UTC()

	kind := contracts.EventWorkflowCompleted
	switch run.Status {
	case contracts.RunFailed:
		kind = contracts.EventWorkflowFailed
	case contracts.RunCancelled:
		kind = contracts.EventWorkflowCancelled
	}
	o.publish(ctx, run, contracts.ProgressEvent{Kind: kind, Message: run.Error})
	logger.Info("workflow run finished", "status", run.Status)
	return run, nil
}

// executeStep runs one step body. It returns a non-empty blocked reason when
// the step's data precondition is unmet, or an error when the step failed.
func (o *Orchestrator) executeStep(ctx context.Context, id contracts.StepID, req RunRequest, state *runState, step *contracts.WorkflowStep) (string, error) {
	switch id {
	case contracts.StepQualifyTemplate:
		return "", o.qualifyTemplate(ctx, req, state, step)
	case contracts.StepCreateCase:
		return "", o.createOrResumeCase(ctx, req, state, step)
	case contracts.StepIngestEvidence:
		return "", o.ingestEvidence(ctx, req, state, step)
	case contracts.StepProposeSlots:
		return o.proposeSlots(ctx, req, state, step)
	case contracts.StepAdjudicate:
		return o.adjudicate(ctx, state, step)
	case contracts.StepComputeCoverage:
		return o.computeCoverage(ctx, req, state, step)
	case contracts.StepRenderDocument:
		return o.renderDocument(ctx, req, state, step)
	case contracts.StepExportBundle:
		return o.exportBundle(ctx, req, state, step)
	default:
		return "", fmt.Errorf("workflow: unknown step %d", id)
	}
}

func (o *Orchestrator) template(ctx context.Context, req RunRequest, state *runState) (templates.Template, error) {
	if state.tpl != nil {
		return state.tpl, nil
	}
	tpl, err := o.deps.Templates.LoadTemplate(ctx, req.Case.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("workflow: load template %s: %w", req.Case.TemplateID, err)
	}
	state.tpl = tpl
	return tpl, nil
}

func (o *Orchestrator) qualifyTemplate(ctx context.Context, req RunRequest, state *runState, step *contracts.WorkflowStep) error {
	tpl, err := o.template(ctx, req, state)
	if err != nil {
		return err
	}
	report, err := o.deps.Qualifier.Qualify(ctx, tpl, req.Case.Jurisdictions, req.Descriptor)
	if err != nil {
		return fmt.Errorf("workflow: qualify template %s: %w", tpl.ID(), err)
	}
	state.qualification = report

	obligations, err := o.deps.Knowledge.ObligationsFor(ctx, req.Case.Jurisdictions, tpl.ReportKind())
	if err != nil {
		return fmt.Errorf("workflow: load obligations: %w", err)
	}
	state.obligations = obligations

	decision := "PASSED"
	var reasons []string
	if !report.Passed {
		decision = "FAILED"
		for _, f := range report.Findings {
			if f.Severity == contracts.SeverityError {
				reasons = append(reasons, f.Code+": "+f.Message)
			}
		}
	}
	if err := o.appendTrace(ctx, state, trace.Event{
		EventType:  contracts.TraceTemplateQualified,
		Actor:      actor,
		EntityType: "template",
		EntityID:   tpl.ID(),
		Decision:   decision,
		InputData:  map[string]any{"jurisdictions": req.Case.Jurisdictions, "version": tpl.Version().String()},
		OutputData: map[string]any{"finding_count": len(report.Findings), "error_count": report.ErrorCount()},
		Reasons:    reasons,
	}); err != nil {
		return err
	}

	step.Report = map[string]any{
		"passed":        report.Passed,
		"finding_count": len(report.Findings),
		"error_count":   report.ErrorCount(),
	}
	if !report.Passed {
		return fmt.Errorf("workflow: template %s failed qualification with %d error finding(s)", tpl.ID(), report.ErrorCount())
	}
	return nil
}

func (o *Orchestrator) createOrResumeCase(ctx context.Context, req RunRequest, state *runState, step *contracts.WorkflowStep) error {
	existing, err := o.deps.Cases.Get(ctx, req.Case.CaseID)
	switch {
	case errors.Is(err, ErrCaseNotFound):
		c := req.Case
		c.Version = 1
		c.CreatedAt = o.clock().UTC()
		if err := o.deps.Cases.Create(ctx, &c); err != nil {
			return fmt.Errorf("workflow: create case %s: %w", c.CaseID, err)
		}
		step.Report = map[string]any{"version": c.Version, "resumed": false}
	case err != nil:
		return fmt.Errorf("workflow: look up case %s: %w", req.Case.CaseID, err)
	default:
		existing.TemplateID = req.Case.TemplateID
		existing.Jurisdictions = req.Case.Jurisdictions
		existing.DeviceCode = req.Case.DeviceCode
		existing.PeriodStart = req.Case.PeriodStart
		existing.PeriodEnd = req.Case.PeriodEnd
		existing.Version++
		if err := o.deps.Cases.Update(ctx, existing); err != nil {
			return fmt.Errorf("workflow: update case %s: %w", existing.CaseID, err)
		}
		step.Report = map[string]any{"version": existing.Version, "resumed": true}
	}
	return nil
}

func (o *Orchestrator) ingestEvidence(ctx context.Context, req RunRequest, state *runState, step *contracts.WorkflowStep) error {
	caseID := req.Case.CaseID

	atoms := make([]contracts.EvidenceAtom, 0, len(req.Evidence))
	for _, in := range req.Evidence {
		atom, err := evidence.NewAtom(caseID, in.Type, in.NormalizedData, in.Provenance)
		if err != nil {
			return fmt.Errorf("workflow: build %s atom: %w", in.Type, err)
		}
		atoms = append(atoms, *atom)
	}
	res, err := o.deps.Evidence.Persist(ctx, caseID, atoms)
	if err != nil {
		return fmt.Errorf("workflow: persist evidence: %w", err)
	}
	if res.InsertedCount > 0 {
		if err := o.appendTrace(ctx, state, trace.Event{
			EventType:  contracts.TraceEvidenceCreated,
			Actor:      actor,
			EntityType: "evidence_batch",
			EntityID:   caseID,
			Decision:   "PERSISTED",
			OutputData: map[string]any{"inserted": res.InsertedCount, "skipped": res.SkippedCount, "inserted_ids": res.InsertedIDs},
		}); err != nil {
			return err
		}
	}

	tpl, err := o.template(ctx, req, state)
	if err != nil {
		return err
	}
	required := templates.RequiredEvidenceTypes(tpl)
	counts, err := o.deps.Evidence.CountByType(ctx, caseID)
	if err != nil {
		return fmt.Errorf("workflow: count evidence: %w", err)
	}
	negatives, err := evidence.FillNegativeGaps(counts, required, o.deps.Negative, caseID, req.Case.DeviceCode, req.Case.PeriodStart, req.Case.PeriodEnd)
	if err != nil {
		return fmt.Errorf("workflow: synthesize negative evidence: %w", err)
	}
	if len(negatives) > 0 {
		negRes, err := o.deps.Evidence.Persist(ctx, caseID, negatives)
		if err != nil {
			return fmt.Errorf("workflow: persist negative evidence: %w", err)
		}
		for _, n := range negatives {
			if err := o.appendTrace(ctx, state, trace.Event{
				EventType:  contracts.TraceEvidenceSynthesized,
				Actor:      actor,
				EntityType: "evidence_atom",
				EntityID:   n.AtomID,
				Decision:   "NEGATIVE_CONFIRMED",
				InputData:  map[string]any{"evidence_type": string(n.EvidenceType)},
				Reasons:    []string{fmt.Sprintf("no %s evidence found in reporting period", n.EvidenceType)},
			}); err != nil {
				return err
			}
		}
		res.InsertedCount += negRes.InsertedCount
		res.SkippedCount += negRes.SkippedCount
	}

	if err := evidence.RequireNonEmpty(ctx, o.deps.Evidence, caseID); err != nil {
		return err
	}
	universe, err := o.deps.Evidence.ListByCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("workflow: list evidence: %w", err)
	}
	state.universe = universe

	step.Report = map[string]any{
		"inserted":    res.InsertedCount,
		"skipped":     res.SkippedCount,
		"synthesized": len(negatives),
		"total_atoms": len(universe),
	}
	return nil
}

func (o *Orchestrator) proposeSlots(ctx context.Context, req RunRequest, state *runState, step *contracts.WorkflowStep) (string, error) {
	if state.universe == nil {
		universe, err := o.deps.Evidence.ListByCase(ctx, req.Case.CaseID)
		if err != nil {
			return "", fmt.Errorf("workflow: list evidence: %w", err)
		}
		state.universe = universe
	}
	if len(state.universe) == 0 {
		return "no evidence atoms available for case", nil
	}
	tpl, err := o.template(ctx, req, state)
	if err != nil {
		return "", err
	}

	proposals := o.deps.Proposer.Propose(state.universe, tpl.EffectiveSlots())
	byStatus := make(map[string]int, 3)
	for _, p := range proposals {
		byStatus[string(p.Status)]++
		if err := o.appendTrace(ctx, state, trace.Event{
			EventType:  contracts.TraceSlotProposed,
			Actor:      actor,
			EntityType: "slot",
			EntityID:   p.SlotID,
			Decision:   string(p.Status),
			OutputData: map[string]any{"evidence_atom_ids": p.EvidenceAtomIDs},
			Reasons:    []string{p.MethodStatement},
		}); err != nil {
			return "", err
		}
	}
	state.proposals = proposals

	step.Report = map[string]any{"proposal_count": len(proposals), "by_status": byStatus}
	return "", nil
}

func (o *Orchestrator) adjudicate(ctx context.Context, state *runState, step *contracts.WorkflowStep) (string, error) {
	if len(state.proposals) == 0 {
		return "no slot proposals produced in this run", nil
	}
	result := o.deps.Adjudicator.Adjudicate(state.proposals)

	for _, p := range result.Accepted {
		if err := o.appendTrace(ctx, state, trace.Event{
			EventType:  contracts.TraceSlotAccepted,
			Actor:      actor,
			EntityType: "slot",
			EntityID:   p.SlotID,
			Decision:   "ACCEPTED",
			OutputData: map[string]any{"status": string(p.Status), "evidence_atom_ids": p.EvidenceAtomIDs},
		}); err != nil {
			return "", err
		}
	}
	for _, r := range result.Rejected {
		if err := o.appendTrace(ctx, state, trace.Event{
			EventType:  contracts.TraceSlotRejected,
			Actor:      actor,
			EntityType: "slot",
			EntityID:   r.Proposal.SlotID,
			Decision:   "REJECTED",
			Reasons:    r.Reasons,
		}); err != nil {
			return "", err
		}
	}

	state.result = result
	state.adjudicated = true
	step.Report = map[string]any{"accepted": len(result.Accepted), "rejected": len(result.Rejected)}
	return "", nil
}

func (o *Orchestrator) computeCoverage(ctx context.Context, req RunRequest, state *runState, step *contracts.WorkflowStep) (string, error) {
	if !state.adjudicated {
		return "no adjudication result available from this run", nil
	}
	tpl, err := o.template(ctx, req, state)
	if err != nil {
		return "", err
	}
	if state.obligations == nil {
		obligations, err := o.deps.Knowledge.ObligationsFor(ctx, req.Case.Jurisdictions, tpl.ReportKind())
		if err != nil {
			return "", fmt.Errorf("workflow: load obligations: %w", err)
		}
		state.obligations = obligations
	}
	if state.universe == nil {
		universe, err := o.deps.Evidence.ListByCase(ctx, req.Case.CaseID)
		if err != nil {
			return "", fmt.Errorf("workflow: list evidence: %w", err)
		}
		state.universe = universe
	}

	report := o.deps.Calculator.Compute(req.Case.CaseID, len(tpl.EffectiveSlots()), state.result, state.obligations, state.universe)
	state.coverage = report

	satisfied := make(map[string]bool, len(report.SatisfiedObligationIDs))
	for _, id := range report.SatisfiedObligationIDs {
		satisfied[id] = true
		if err := o.appendTrace(ctx, state, trace.Event{
			EventType:  contracts.TraceObligationSatisfied,
			Actor:      actor,
			EntityType: "obligation",
			EntityID:   id,
			Decision:   "SATISFIED",
		}); err != nil {
			return "", err
		}
	}
	for _, ob := range state.obligations {
		if satisfied[ob.ID] || !ob.Mandatory {
			continue
		}
		if err := o.appendTrace(ctx, state, trace.Event{
			EventType:  contracts.TraceObligationUnsatisfied,
			Actor:      actor,
			EntityType: "obligation",
			EntityID:   ob.ID,
			Decision:   "UNSATISFIED",
			Reasons:    []string{"required evidence types not present in accepted slots"},
		}); err != nil {
			return "", err
		}
	}
	if err := o.appendTrace(ctx, state, trace.Event{
		EventType:  contracts.TraceCoverageComputed,
		Actor:      actor,
		EntityType: "coverage_report",
		EntityID:   req.Case.CaseID,
		Decision:   passFail(report.Passed),
		OutputData: map[string]any{
			"coverage_percent": report.CoveragePercent,
			"missing_types":    report.MissingEvidenceTypes,
			"accepted_count":   report.AcceptedCount,
			"rejected_count":   report.RejectedCount,
		},
	}); err != nil {
		return "", err
	}

	step.Report = map[string]any{
		"coverage_percent": report.CoveragePercent,
		"passed":           report.Passed,
		"satisfied":        len(report.SatisfiedObligationIDs),
		"obligations":      report.TotalObligations,
	}
	return "", nil
}

func (o *Orchestrator) renderDocument(ctx context.Context, req RunRequest, state *runState, step *contracts.WorkflowStep) (string, error) {
	if state.coverage == nil {
		return "no coverage report available from this run", nil
	}
	if o.deps.Renderer == nil {
		return "", errors.New("workflow: renderer not configured")
	}
	tpl, err := o.template(ctx, req, state)
	if err != nil {
		return "", err
	}

	format := req.RenderFormat
	if format == "" {
		format = "pdf"
	}
	mode := req.RenderMode
	if mode == "" {
		mode = render.ModeAutomated
	}

	renderReq := render.BuildRequest(req.Case.CaseID, tpl.ID(), format, tpl.EffectiveSlots(), state.result, state.coverage)
	doc, err := o.deps.Renderer.Render(ctx, mode, renderReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", errRunCancelled
		}
		return "", err
	}
	state.document = doc

	if err := o.appendTrace(ctx, state, trace.Event{
		EventType:  contracts.TraceDocumentRendered,
		Actor:      actor,
		EntityType: "document",
		EntityID:   doc.DocumentID,
		Decision:   "RENDERED",
		OutputData: map[string]any{"format": doc.Format, "content_hash": doc.ContentHash},
	}); err != nil {
		return "", err
	}

	step.Report = map[string]any{"document_id": doc.DocumentID, "format": doc.Format, "content_hash": doc.ContentHash}
	return "", nil
}

func (o *Orchestrator) exportBundle(ctx context.Context, req RunRequest, state *runState, step *contracts.WorkflowStep) (string, error) {
	if state.document == nil {
		return "no rendered document available from this run", nil
	}
	if o.deps.Exporter == nil {
		return "", errors.New("workflow: bundle exporter not configured")
	}

	verification, err := o.deps.Ledger.VerifyChain(ctx, state.tctx.TraceID)
	if err != nil {
		return "", fmt.Errorf("workflow: verify trace chain: %w", err)
	}
	if !verification.Valid {
		return "", fmt.Errorf("workflow: trace chain integrity failure at sequence %d: %s", verification.BrokenAt, verification.Error)
	}

	jsonl, err := o.deps.Ledger.ExportJSONL(ctx, req.Case.CaseID)
	if err != nil {
		return "", fmt.Errorf("workflow: export trace: %w", err)
	}
	if state.universe == nil {
		universe, err := o.deps.Evidence.ListByCase(ctx, req.Case.CaseID)
		if err != nil {
			return "", fmt.Errorf("workflow: list evidence: %w", err)
		}
		state.universe = universe
	}

	b, err := o.deps.Exporter.Export(ctx, bundle.Input{
		CaseID:        req.Case.CaseID,
		TraceID:       state.tctx.TraceID,
		TraceJSONL:    []byte(jsonl),
		ChainHead:     state.tctx.PreviousHash,
		Coverage:      state.coverage,
		Atoms:         state.universe,
		Qualification: state.qualification,
		Document:      state.document,
	})
	if err != nil {
		return "", fmt.Errorf("workflow: export bundle: %w", err)
	}
	state.bundle = b

	if err := o.appendTrace(ctx, state, trace.Event{
		EventType:  contracts.TraceBundleExported,
		Actor:      actor,
		EntityType: "bundle",
		EntityID:   b.BundleID,
		Decision:   "EXPORTED",
		OutputData: map[string]any{"checksum": b.Checksum, "files": b.Files, "storage_uri": b.StorageURI},
	}); err != nil {
		return "", err
	}

	step.Report = map[string]any{
		"bundle_id":        b.BundleID,
		"checksum":         b.Checksum,
		"files":            len(b.Files),
		"storage_uri":      b.StorageURI,
		"verified_entries": verification.VerifiedEntries,
	}
	return "", nil
}

// appendTrace records one decision and advances the chain cursor.
func (o *Orchestrator) appendTrace(ctx context.Context, state *runState, ev trace.Event) error {
	_, next, err := o.deps.Ledger.Append(ctx, state.tctx, ev)
	if err != nil {
		return fmt.Errorf("workflow: append trace event %s: %w", ev.EventType, err)
	}
	state.tctx = next
	return nil
}

func (o *Orchestrator) finishBlocked(ctx context.Context, run *contracts.RunResult, step *contracts.WorkflowStep, state *runState, msg string) {
	step.Status = contracts.StepBlocked
	step.Message = msg
	step.CompletedAt = o.clock().UTC()
	if err := o.appendTrace(ctx, state, trace.Event{
		EventType:  contracts.TraceStepBlocked,
		Actor:      actor,
		EntityType: "workflow_step",
		EntityID:   step.Name,
		Decision:   string(contracts.StepBlocked),
		Reasons:    []string{msg},
	}); err != nil {
		o.deps.Logger.Warn("trace append failed for blocked step", "step", step.Name, "error", err)
	}
	o.publish(ctx, run, contracts.ProgressEvent{
		Kind: contracts.EventStepBlocked, StepID: step.StepID, StepName: step.Name,
		Status: step.Status, Message: msg,
	})
}

func (o *Orchestrator) cancelRun(run *contracts.RunResult, step *contracts.WorkflowStep, state *runState, logger *slog.Logger) {
	if step.Status == contracts.StepRunning || step.Status == contracts.StepNotStarted {
		step.Status = contracts.StepCancelled
		step.CompletedAt = o.clock().UTC()
	}
	run.Status = contracts.RunCancelled
	run.Error = "run cancelled"
	// The original context is gone; record the cancellation on a fresh one.
	if err := o.appendTrace(context.Background(), state, trace.Event{
		EventType:  contracts.TraceWorkflowCancelled,
		Actor:      actor,
		EntityType: "workflow_step",
		EntityID:   step.Name,
		Decision:   string(contracts.StepCancelled),
		Reasons:    []string{"context cancelled"},
	}); err != nil {
		logger.Warn("trace append failed for cancellation", "error", err)
	}
	logger.Warn("workflow run cancelled", "step", step.Name)
}

// publish fans the event out to subscribers and refreshes the cached run
// snapshot. Both are best-effort.
func (o *Orchestrator) publish(ctx context.Context, run *contracts.RunResult, ev contracts.ProgressEvent) {
	ev.CaseID = run.CaseID
	ev.RunID = run.RunID
	ev.Timestamp = o.clock().UTC()
	o.deps.Broker.Publish(ev)

	steps := make([]contracts.WorkflowStep, len(run.Steps))
	copy(steps, run.Steps)
	snap := contracts.RunSnapshot{
		CaseID:    run.CaseID,
		RunID:     run.RunID,
		Status:    run.Status,
		Steps:     steps,
		UpdatedAt: ev.Timestamp,
	}
	if err := o.deps.Runs.Publish(context.WithoutCancel(ctx), snap); err != nil {
		o.deps.Logger.Warn("snapshot publish failed", "case_id", run.CaseID, "error", err)
	}
}

// blockedByPredecessor returns a reason when the immediately preceding step
// ended FAILED, BLOCKED or CANCELLED. Steps skipped via RunSteps do not gate.
func blockedByPredecessor(steps []contracts.WorkflowStep, id contracts.StepID) string {
	if id == contracts.StepQualifyTemplate {
		return ""
	}
	prev := steps[int(id)-2]
	switch prev.Status {
	case contracts.StepFailed, contracts.StepBlocked, contracts.StepCancelled:
		return fmt.Sprintf("predecessor step %s ended %s", prev.Name, prev.Status)
	}
	return ""
}

// stepSet expands the requested subset; empty means every step.
func stepSet(requested []contracts.StepID) map[contracts.StepID]bool {
	set := make(map[contracts.StepID]bool, 8)
	if len(requested) == 0 {
		for id := contracts.StepQualifyTemplate; id <= contracts.StepExportBundle; id++ {
			set[id] = true
		}
		return set
	}
	for _, id := range requested {
		set[id] = true
	}
	return set
}

func passFail(passed bool) string {
	if passed {
		return "PASSED"
	}
	return "FAILED"
}
