package contracts

import "time"

// TraceEventType categorizes decision trace entries.
type TraceEventType string

const (
	TraceEvidenceCreated        TraceEventType = "evidence.created"
	TraceEvidenceSynthesized    TraceEventType = "evidence.synthesized"
	TraceSlotProposed           TraceEventType = "slot.proposed"
	TraceSlotAccepted           TraceEventType = "slot.accepted"
	TraceSlotRejected           TraceEventType = "slot.rejected"
	TraceObligationSatisfied    TraceEventType = "obligation.satisfied"
	TraceObligationUnsatisfied  TraceEventType = "obligation.unsatisfied"
	TraceCoverageComputed       TraceEventType = "coverage.computed"
	TraceTemplateQualified      TraceEventType = "template.qualified"
	TraceStepCompleted          TraceEventType = "step.completed"
	TraceStepFailed             TraceEventType = "step.failed"
	TraceStepBlocked            TraceEventType = "step.blocked"
	TraceDocumentRendered       TraceEventType = "document.rendered"
	TraceBundleExported         TraceEventType = "bundle.exported"
	TraceWorkflowCancelled      TraceEventType = "workflow.cancelled"
	TraceNegativeQueryConfirmed TraceEventType = "negative_query.confirmed"
)

// TraceEntry is one append-only row of the decision trace. ContentHash is a
// deterministic hash over every field except ContentHash and PreviousHash;
// PreviousHash of entry n equals ContentHash of entry n-1 (empty for the
// first entry).
type TraceEntry struct {
	TraceID      string         `json:"trace_id"`
	SequenceNum  uint64         `json:"sequence_num"`
	EventType    TraceEventType `json:"event_type"`
	Actor        string         `json:"actor"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Decision     string         `json:"decision"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	Reasons      []string       `json:"reasons,omitempty"`
	ContentHash  string         `json:"content_hash"`
	PreviousHash string         `json:"previous_hash"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TraceSummary carries per-trace counters updated transactionally with each
// append.
type TraceSummary struct {
	TraceID       string `json:"trace_id"`
	CaseID        string `json:"case_id"`
	EntryCount    int    `json:"entry_count"`
	AcceptedCount int    `json:"accepted_count"`
	RejectedCount int    `json:"rejected_count"`
	GapCount      int    `json:"gap_count"`
}

// ChainVerification is the result of an end-to-end chain walk.
type ChainVerification struct {
	Valid           bool   `json:"valid"`
	VerifiedEntries int    `json:"verified_entries"`
	BrokenAt        uint64 `json:"broken_at,omitempty"`
	Error           string `json:"error,omitempty"`
}
