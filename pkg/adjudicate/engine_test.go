package adjudicate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

func ready(slotID string) contracts.SlotProposal {
	return contracts.SlotProposal{
		SlotID:               slotID,
		Status:               contracts.ProposalReady,
		EvidenceAtomIDs:      []string{"complaint_record:abc123def456"},
		ClaimedObligationIDs: []string{"OBL-1"},
		MethodStatement:      "Selected 1 of 3 matching atoms in evidence list order.",
	}
}

func TestAcceptsValidReadyProposal(t *testing.T) {
	engine := NewEngine(DefaultMinMethodChars)
	result := engine.Adjudicate([]contracts.SlotProposal{ready("s-1")})
	assert.Len(t, result.Accepted, 1)
	assert.Empty(t, result.Rejected)
}

func TestAcceptsNoEvidenceRequiredByDefault(t *testing.T) {
	engine := NewEngine(DefaultMinMethodChars)
	p := contracts.SlotProposal{
		SlotID:               "s-toc",
		Status:               contracts.ProposalNoEvidenceRequired,
		ClaimedObligationIDs: []string{"OBL-1"},
		MethodStatement:      "Administrative content; no evidence rule applies.",
	}
	result := engine.Adjudicate([]contracts.SlotProposal{p})
	assert.Len(t, result.Accepted, 1)
}

func TestRejectsTraceGap(t *testing.T) {
	engine := NewEngine(DefaultMinMethodChars)
	p := ready("s-1")
	p.Status = contracts.ProposalTraceGap
	p.EvidenceAtomIDs = nil

	result := engine.Adjudicate([]contracts.SlotProposal{p})
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Reasons[0], "trace gap")
}

func TestRejectsEmptyObligations(t *testing.T) {
	engine := NewEngine(DefaultMinMethodChars)
	p := ready("s-1")
	p.ClaimedObligationIDs = nil

	result := engine.Adjudicate([]contracts.SlotProposal{p})
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Reasons[0], "no obligation ids")
}

func TestRejectsShortMethodStatement(t *testing.T) {
	engine := NewEngine(DefaultMinMethodChars)
	p := ready("s-1")
	p.MethodStatement = "too short"

	result := engine.Adjudicate([]contracts.SlotProposal{p})
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Reasons[0], "below the 10 char minimum")
}

func TestRejectsReadyWithoutAtoms(t *testing.T) {
	engine := NewEngine(DefaultMinMethodChars)
	p := ready("s-1")
	p.EvidenceAtomIDs = []string{}

	result := engine.Adjudicate([]contracts.SlotProposal{p})
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Reasons[0], "cites no evidence atoms")
}

func TestReasonsAccumulateWithoutShortCircuit(t *testing.T) {
	engine := NewEngine(DefaultMinMethodChars)
	p := contracts.SlotProposal{
		SlotID:          "s-bad",
		Status:          contracts.ProposalTraceGap,
		MethodStatement: "short",
	}
	result := engine.Adjudicate([]contracts.SlotProposal{p})
	require.Len(t, result.Rejected, 1)
	// Trace gap, no obligations, short statement: three simultaneous reasons.
	assert.Len(t, result.Rejected[0].Reasons, 3)
}

func TestMinMethodCharsFallback(t *testing.T) {
	engine := NewEngine(0)
	p := ready("s-1")
	p.MethodStatement = strings.Repeat("x", DefaultMinMethodChars-1)
	result := engine.Adjudicate([]contracts.SlotProposal{p})
	assert.Len(t, result.Rejected, 1)
}
