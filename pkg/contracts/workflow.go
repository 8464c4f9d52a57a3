package contracts

import "time"

// WorkflowCase is the unit of work. Created once; subsequent runs for the
// same case resume rather than recreate, bumping Version.
type WorkflowCase struct {
	CaseID        string    `json:"case_id"`
	TemplateID    string    `json:"template_id"`
	Jurisdictions []string  `json:"jurisdictions"`
	DeviceCode    string    `json:"device_code"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StepID identifies one of the eight ordered workflow steps.
type StepID int

const (
	StepQualifyTemplate StepID = iota + 1
	StepCreateCase
	StepIngestEvidence
	StepProposeSlots
	StepAdjudicate
	StepComputeCoverage
	StepRenderDocument
	StepExportBundle
)

// StepName returns the stable wire name of a step.
func (s StepID) StepName() string {
	switch s {
	case StepQualifyTemplate:
		return "qualify_template"
	case StepCreateCase:
		return "create_case"
	case StepIngestEvidence:
		return "ingest_evidence"
	case StepProposeSlots:
		return "propose_slots"
	case StepAdjudicate:
		return "adjudicate"
	case StepComputeCoverage:
		return "compute_coverage"
	case StepRenderDocument:
		return "render_document"
	case StepExportBundle:
		return "export_bundle"
	default:
		return "unknown"
	}
}

// StepStatus is the lifecycle state of a workflow step within one run.
// Transitions are monotonic: a step runs only if its predecessor completed;
// BLOCKED and FAILED propagate downward without executing step bodies.
type StepStatus string

const (
	StepNotStarted StepStatus = "NOT_STARTED"
	StepRunning    StepStatus = "RUNNING"
	StepCompleted  StepStatus = "COMPLETED"
	StepBlocked    StepStatus = "BLOCKED"
	StepFailed     StepStatus = "FAILED"
	StepCancelled  StepStatus = "CANCELLED"
)

// WorkflowStep records one step's outcome for a run, with a step-specific
// report payload.
type WorkflowStep struct {
	StepID      StepID         `json:"step_id"`
	Name        string         `json:"name"`
	Status      StepStatus     `json:"status"`
	Message     string         `json:"message,omitempty"`
	Report      map[string]any `json:"report,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// RunStatus is the terminal state of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// RunResult is the final record of one workflow run.
type RunResult struct {
	RunID       string         `json:"run_id"`
	CaseID      string         `json:"case_id"`
	Status      RunStatus      `json:"status"`
	Steps       []WorkflowStep `json:"steps"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// ProgressEventKind is the typed outbound event vocabulary.
type ProgressEventKind string

const (
	EventWorkflowStarted   ProgressEventKind = "workflow.started"
	EventWorkflowCompleted ProgressEventKind = "workflow.completed"
	EventWorkflowFailed    ProgressEventKind = "workflow.failed"
	EventWorkflowCancelled ProgressEventKind = "workflow.cancelled"
	EventStepStarted       ProgressEventKind = "step.started"
	EventStepCompleted     ProgressEventKind = "step.completed"
	EventStepFailed        ProgressEventKind = "step.failed"
	EventStepBlocked       ProgressEventKind = "step.blocked"
)

// ProgressEvent is one discrete progress notification for a case.
type ProgressEvent struct {
	CaseID    string            `json:"case_id"`
	RunID     string            `json:"run_id"`
	Kind      ProgressEventKind `json:"kind"`
	StepID    StepID            `json:"step_id,omitempty"`
	StepName  string            `json:"step_name,omitempty"`
	Status    StepStatus        `json:"status,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// RunSnapshot is the best-effort cached state handed to late subscribers.
type RunSnapshot struct {
	CaseID    string         `json:"case_id"`
	RunID     string         `json:"run_id"`
	Status    RunStatus      `json:"status"`
	Steps     []WorkflowStep `json:"steps"`
	UpdatedAt time.Time      `json:"updated_at"`
}
