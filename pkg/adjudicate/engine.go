// Package adjudicate applies the fixed acceptance rules to slot proposals.
//
// This is the single enforcement boundary for "does this slot count as
// compliant". Rules are never bypassed and never free-form: every rule is
// evaluated against every proposal, reasons accumulate rather than
// short-circuit, and every proposal ends up in exactly one of
// accepted/rejected.
package adjudicate

import (
	"fmt"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// DefaultMinMethodChars is the minimum method statement length a proposal
// must carry to be accepted.
const DefaultMinMethodChars = 10

// Engine evaluates proposals against the fixed rule set.
type Engine struct {
	minMethodChars int
}

// NewEngine creates an adjudication engine with the given method statement
// minimum; values below 1 fall back to DefaultMinMethodChars.
func NewEngine(minMethodChars int) *Engine {
	if minMethodChars < 1 {
		minMethodChars = DefaultMinMethodChars
	}
	return &Engine{minMethodChars: minMethodChars}
}

// Adjudicate partitions proposals into accepted and rejected. A proposal is
// accepted only when zero rules produced a reason; rejected proposals carry
// every violated rule.
func (e *Engine) Adjudicate(proposals []contracts.SlotProposal) contracts.AdjudicationResult {
	result := contracts.AdjudicationResult{
		Accepted: []contracts.SlotProposal{},
		Rejected: []contracts.RejectedProposal{},
	}
	for _, p := range proposals {
		reasons := e.evaluate(p)
		if len(reasons) == 0 {
			result.Accepted = append(result.Accepted, p)
		} else {
			result.Rejected = append(result.Rejected, contracts.RejectedProposal{
				Proposal: p,
				Reasons:  reasons,
			})
		}
	}
	return result
}

func (e *Engine) evaluate(p contracts.SlotProposal) []string {
	var reasons []string

	if p.Status == contracts.ProposalTraceGap {
		reasons = append(reasons, fmt.Sprintf(
			"slot %s has a trace gap: required evidence types have no matching atoms", p.SlotID))
	}
	if len(p.ClaimedObligationIDs) == 0 {
		reasons = append(reasons, fmt.Sprintf(
			"slot %s claims no obligation ids", p.SlotID))
	}
	if len(p.MethodStatement) < e.minMethodChars {
		reasons = append(reasons, fmt.Sprintf(
			"slot %s method statement is %d chars, below the %d char minimum",
			p.SlotID, len(p.MethodStatement), e.minMethodChars))
	}
	// Unreachable if the proposal engine is correct, but adjudication is the
	// enforcement boundary and checks it independently.
	if p.Status == contracts.ProposalReady && len(p.EvidenceAtomIDs) == 0 {
		reasons = append(reasons, fmt.Sprintf(
			"slot %s is READY but cites no evidence atoms", p.SlotID))
	}
	return reasons
}
