package contracts

import "time"

// ProposalStatus is the engine's claim about how a slot will be filled.
type ProposalStatus string

const (
	ProposalReady              ProposalStatus = "READY"
	ProposalTraceGap           ProposalStatus = "TRACE_GAP"
	ProposalNoEvidenceRequired ProposalStatus = "NO_EVIDENCE_REQUIRED"
)

// Slot is a named content requirement in the target report. Slots are
// read-only configuration loaded once per case.
type Slot struct {
	SlotID                string         `json:"slot_id"`
	Title                 string         `json:"title"`
	RequiredEvidenceTypes []EvidenceType `json:"required_evidence_types"`
	ClaimedObligationIDs  []string       `json:"claimed_obligation_ids"`
	MinAtoms              int            `json:"min_atoms"`
}

// SlotProposal is one engine decision per slot per run: which atoms fill the
// slot, which obligations it claims, and a machine-generated method statement
// justifying the selection.
type SlotProposal struct {
	ProposalID           string         `json:"proposal_id"`
	SlotID               string         `json:"slot_id"`
	Status               ProposalStatus `json:"status"`
	EvidenceAtomIDs      []string       `json:"evidence_atom_ids"`
	ClaimedObligationIDs []string       `json:"claimed_obligation_ids"`
	MethodStatement      string         `json:"method_statement"`
	Transformations      []string       `json:"transformations,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// RejectedProposal pairs a proposal with every rule it violated.
type RejectedProposal struct {
	Proposal SlotProposal `json:"proposal"`
	Reasons  []string     `json:"reasons"`
}

// AdjudicationResult partitions proposals: every input proposal appears in
// exactly one of Accepted or Rejected.
type AdjudicationResult struct {
	Accepted []SlotProposal     `json:"accepted"`
	Rejected []RejectedProposal `json:"rejected"`
}

// CoverageReport aggregates accepted proposals against the jurisdiction's
// obligation set. Passed requires both the percentage gate and zero missing
// evidence types; partial credit does not count.
type CoverageReport struct {
	CaseID                 string         `json:"case_id"`
	TotalSlots             int            `json:"total_slots"`
	AcceptedCount          int            `json:"accepted_count"`
	RejectedCount          int            `json:"rejected_count"`
	SatisfiedObligationIDs []string       `json:"satisfied_obligation_ids"`
	TotalObligations       int            `json:"total_obligations"`
	CoveragePercent        int            `json:"coverage_percent"`
	MissingEvidenceTypes   []EvidenceType `json:"missing_evidence_types"`
	Passed                 bool           `json:"passed"`
	ComputedAt             time.Time      `json:"computed_at"`
}
