//go:build property
// +build property

package adjudicate

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// TestAdjudicationTotality verifies that for arbitrary proposals every input
// lands in exactly one of accepted/rejected, and every rejection carries at
// least one reason consistent with a violated rule.
func TestAdjudicationTotality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	statuses := []contracts.ProposalStatus{
		contracts.ProposalReady,
		contracts.ProposalTraceGap,
		contracts.ProposalNoEvidenceRequired,
	}

	genProposal := gopter.CombineGens(
		gen.IntRange(0, 2),          // status index
		gen.IntRange(0, 3),          // obligation count
		gen.IntRange(0, 40),         // method statement length
		gen.IntRange(0, 2),          // atom count
	).Map(func(vals []interface{}) contracts.SlotProposal {
		status := statuses[vals[0].(int)]
		p := contracts.SlotProposal{SlotID: "s", Status: status}
		for i := 0; i < vals[1].(int); i++ {
			p.ClaimedObligationIDs = append(p.ClaimedObligationIDs, "OBL")
		}
		for i := 0; i < vals[2].(int); i++ {
			p.MethodStatement += "m"
		}
		for i := 0; i < vals[3].(int); i++ {
			p.EvidenceAtomIDs = append(p.EvidenceAtomIDs, "atom")
		}
		return p
	})

	properties.Property("every proposal lands in exactly one partition", prop.ForAll(
		func(proposals []contracts.SlotProposal) bool {
			engine := NewEngine(DefaultMinMethodChars)
			result := engine.Adjudicate(proposals)
			if len(result.Accepted)+len(result.Rejected) != len(proposals) {
				return false
			}
			for _, r := range result.Rejected {
				if len(r.Reasons) == 0 {
					return false
				}
			}
			for _, a := range result.Accepted {
				if a.Status == contracts.ProposalTraceGap {
					return false
				}
				if len(a.ClaimedObligationIDs) == 0 {
					return false
				}
				if len(a.MethodStatement) < DefaultMinMethodChars {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genProposal),
	))

	properties.TestingRun(t)
}
