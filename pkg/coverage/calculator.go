// Package coverage aggregates accepted slot proposals against the
// jurisdiction's obligation set and applies the pass gate.
package coverage

import (
	"math"
	"sort"
	"time"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// PassThresholdPercent is the minimum coverage percentage for a passing
// report. Both this gate and zero missing evidence types are hard
// requirements; partial credit does not count.
const PassThresholdPercent = 80

// Calculator computes coverage reports.
type Calculator struct {
	clock func() time.Time
}

// NewCalculator creates a coverage calculator.
func NewCalculator() *Calculator {
	return &Calculator{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (c *Calculator) WithClock(clock func() time.Time) *Calculator {
	c.clock = clock
	return c
}

// Compute aggregates the adjudication result for a case. totalSlots is the
// template's slot count; obligations is the full obligation set for the
// case's jurisdictions; universe is the case's complete evidence universe,
// used to find required evidence types with zero atoms anywhere.
func (c *Calculator) Compute(caseID string, totalSlots int, result contracts.AdjudicationResult, obligations []contracts.Obligation, universe []contracts.EvidenceAtom) *contracts.CoverageReport {
	satisfied := map[string]bool{}
	for _, p := range result.Accepted {
		for _, id := range p.ClaimedObligationIDs {
			satisfied[id] = true
		}
	}
	satisfiedIDs := make([]string, 0, len(satisfied))
	for id := range satisfied {
		satisfiedIDs = append(satisfiedIDs, id)
	}
	sort.Strings(satisfiedIDs)

	percent := 0
	if totalSlots > 0 {
		percent = int(math.Round(100 * float64(len(result.Accepted)) / float64(totalSlots)))
	}

	missing := missingEvidenceTypes(obligations, universe)

	return &contracts.CoverageReport{
		CaseID:                 caseID,
		TotalSlots:             totalSlots,
		AcceptedCount:          len(result.Accepted),
		RejectedCount:          len(result.Rejected),
		SatisfiedObligationIDs: satisfiedIDs,
		TotalObligations:       len(obligations),
		CoveragePercent:        percent,
		MissingEvidenceTypes:   missing,
		Passed:                 percent >= PassThresholdPercent && len(missing) == 0,
		ComputedAt:             c.clock().UTC(),
	}
}

// missingEvidenceTypes returns every obligation-required evidence type with
// zero atoms anywhere in the evidence universe, even when other slots are
// satisfied through different types.
func missingEvidenceTypes(obligations []contracts.Obligation, universe []contracts.EvidenceAtom) []contracts.EvidenceType {
	available := map[contracts.EvidenceType]bool{}
	for i := range universe {
		available[universe[i].EvidenceType] = true
	}
	seen := map[contracts.EvidenceType]bool{}
	var missing []contracts.EvidenceType
	for _, ob := range obligations {
		for _, t := range ob.RequiredEvidenceTypes {
			if available[t] || seen[t] {
				continue
			}
			seen[t] = true
			missing = append(missing, t)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	if missing == nil {
		missing = []contracts.EvidenceType{}
	}
	return missing
}
