package grkb

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

const kbDoc = `
version: "2025.1"
obligations:
  - id: OBL-EU-001
    title: Complaint trend analysis
    text: The report shall analyse complaint trends over the reporting period.
    source_citation: "MDR Art. 86(1)(a)"
    jurisdiction: EU
    report_kinds: [psur]
    mandatory: true
    required_evidence_types: [complaint_record, trend_report]
  - id: OBL-EU-002
    title: Serious incident summary
    text: The report shall summarise serious incidents and field safety corrective actions.
    source_citation: "MDR Art. 86(1)(b)"
    jurisdiction: EU
    report_kinds: [psur]
    mandatory: true
    required_evidence_types: [serious_incident, fsca]
  - id: OBL-UK-001
    title: Vigilance summary
    text: UK vigilance reporting summary.
    source_citation: "UK MDR 2002 Part 8"
    jurisdiction: UK
    report_kinds: [psur, pmsr]
    mandatory: true
    required_evidence_types: [vigilance_report]
constraints:
  - id: CON-EU-001
    description: Class III devices must include PMCF results
    jurisdiction: EU
    report_kinds: [psur]
    applicability: "case.risk_class == 'III'"
    required_evidence_type: pmcf_result
    severity: error
  - id: CON-EU-002
    description: Sales volume slot recommended
    jurisdiction: EU
    severity: warning
`

func loadKB(t *testing.T) *StaticSource {
	t.Helper()
	src, err := Load(strings.NewReader(kbDoc))
	require.NoError(t, err)
	return src
}

func TestObligationsForJurisdictionAndKind(t *testing.T) {
	src := loadKB(t)
	obs, err := src.ObligationsFor(context.Background(), []string{"EU"}, "psur")
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "OBL-EU-001", obs[0].ID)
	assert.Equal(t, "OBL-EU-002", obs[1].ID)
	assert.True(t, obs[0].Mandatory)
}

func TestObligationsAcrossJurisdictions(t *testing.T) {
	src := loadKB(t)
	obs, err := src.ObligationsFor(context.Background(), []string{"EU", "UK"}, "psur")
	require.NoError(t, err)
	assert.Len(t, obs, 3)
}

func TestUnknownJurisdiction(t *testing.T) {
	src := loadKB(t)
	_, err := src.ObligationsFor(context.Background(), []string{"MARS"}, "psur")
	assert.ErrorIs(t, err, ErrUnknownJurisdiction)
}

func TestConstraintsFiltered(t *testing.T) {
	src := loadKB(t)
	cons, err := src.ConstraintsFor(context.Background(), []string{"EU"}, "psur")
	require.NoError(t, err)
	require.Len(t, cons, 2)
	assert.Equal(t, "CON-EU-001", cons[0].ID)
	assert.Equal(t, "error", cons[0].Severity)
	assert.Equal(t, contracts.EvidencePMCFResult, cons[0].RequiredEvidenceType)
}

func TestLoadRejectsConstraintWithUnknownEvidenceType(t *testing.T) {
	doc := `
constraints:
  - id: CON-X
    jurisdiction: EU
    required_evidence_type: unicorn_sighting
    severity: error
`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrBadDocument)
}

func TestLoadRejectsUnknownEvidenceType(t *testing.T) {
	doc := `
obligations:
  - id: OBL-X
    jurisdiction: EU
    required_evidence_types: [unicorn_sighting]
`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrBadDocument)
}

func TestLoadRejectsBadSeverity(t *testing.T) {
	doc := `
constraints:
  - id: CON-X
    jurisdiction: EU
    severity: catastrophic
`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrBadDocument)
}

func TestApplicabilityEvaluator(t *testing.T) {
	eval, err := NewApplicabilityEvaluator()
	require.NoError(t, err)

	applies, err := eval.Applies("case.risk_class == 'III'", map[string]any{"risk_class": "III"})
	require.NoError(t, err)
	assert.True(t, applies)

	applies, err = eval.Applies("case.risk_class == 'III'", map[string]any{"risk_class": "IIa"})
	require.NoError(t, err)
	assert.False(t, applies)

	// Empty expression always applies.
	applies, err = eval.Applies("", nil)
	require.NoError(t, err)
	assert.True(t, applies)
}

func TestApplicabilityRejectsNonPredicate(t *testing.T) {
	eval, err := NewApplicabilityEvaluator()
	require.NoError(t, err)
	_, err = eval.Applies("'just a string'", map[string]any{})
	assert.Error(t, err)
}

func TestApplicabilityCompileError(t *testing.T) {
	eval, err := NewApplicabilityEvaluator()
	require.NoError(t, err)
	_, err = eval.Applies("case.risk_class ==", map[string]any{})
	assert.Error(t, err)
}
