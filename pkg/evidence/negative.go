package evidence

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// NegativePolicy is the allow-list of evidence types for which an absence of
// records is itself a reportable fact. It is configuration, not code: the
// default ships in Go but deployments override it from YAML.
type NegativePolicy struct {
	EligibleTypes []contracts.EvidenceType `yaml:"eligible_types" json:"eligible_types"`
}

// DefaultNegativePolicy returns the built-in allow-list.
func DefaultNegativePolicy() NegativePolicy {
	return NegativePolicy{
		EligibleTypes: []contracts.EvidenceType{
			contracts.EvidenceComplaintRecord,
			contracts.EvidenceSeriousIncident,
			contracts.EvidenceFSCA,
			contracts.EvidenceCAPA,
			contracts.EvidenceRecall,
			contracts.EvidenceSignal,
			contracts.EvidenceVigilanceReport,
			contracts.EvidenceNonconformance,
		},
	}
}

// LoadNegativePolicy reads an allow-list from YAML.
func LoadNegativePolicy(r io.Reader) (NegativePolicy, error) {
	var p NegativePolicy
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		return NegativePolicy{}, fmt.Errorf("evidence: decode negative policy: %w", err)
	}
	for _, t := range p.EligibleTypes {
		if !contracts.KnownEvidenceTypes[t] {
			return NegativePolicy{}, fmt.Errorf("%w: %q in negative policy", ErrUnknownEvidenceType, t)
		}
	}
	return p, nil
}

// Eligible reports whether t may be represented by negative evidence.
func (p NegativePolicy) Eligible(t contracts.EvidenceType) bool {
	for _, e := range p.EligibleTypes {
		if e == t {
			return true
		}
	}
	return false
}

// SynthesizeNegativeEvidence builds an atom asserting that zero events of the
// given type occurred for the device in the reporting period. The payload
// records the query that confirmed the absence, turning "we checked and found
// nothing" into a citable, hashable fact.
func SynthesizeNegativeEvidence(caseID string, evidenceType contracts.EvidenceType, periodStart, periodEnd time.Time, deviceCode string) (*contracts.EvidenceAtom, error) {
	payload := map[string]any{
		"is_negative_evidence": true,
		"count":                0,
		"evidence_type":        string(evidenceType),
		"device_code":          deviceCode,
		"period_start":         periodStart.UTC().Format(time.RFC3339),
		"period_end":           periodEnd.UTC().Format(time.RFC3339),
		"confirming_query": fmt.Sprintf(
			"SELECT COUNT(*) FROM evidence_atoms WHERE case_id = '%s' AND evidence_type = '%s'",
			caseID, evidenceType),
	}
	return NewAtom(caseID, evidenceType, payload, contracts.Provenance{
		DeviceCode:  deviceCode,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		ExtractedAt: time.Now().UTC(),
	})
}

// FillNegativeGaps synthesizes negative atoms for every policy-eligible type
// in required that has zero atoms for the case. Returns the synthesized atoms
// without persisting them; the caller persists and traces each one.
func FillNegativeGaps(counts map[contracts.EvidenceType]int, required []contracts.EvidenceType, policy NegativePolicy, caseID, deviceCode string, periodStart, periodEnd time.Time) ([]contracts.EvidenceAtom, error) {
	var out []contracts.EvidenceAtom
	seen := map[contracts.EvidenceType]bool{}
	for _, t := range required {
		if seen[t] {
			continue
		}
		seen[t] = true
		if counts[t] > 0 || !policy.Eligible(t) {
			continue
		}
		atom, err := SynthesizeNegativeEvidence(caseID, t, periodStart, periodEnd, deviceCode)
		if err != nil {
			return nil, err
		}
		out = append(out, *atom)
	}
	return out, nil
}
