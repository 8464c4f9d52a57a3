package qualify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
	"github.com/Veridian-Labs/dossier/core/pkg/grkb"
	"github.com/Veridian-Labs/dossier/core/pkg/templates"
)

const kbDoc = `
version: "2025.1"
obligations:
  - id: OBL-EU-001
    title: Complaint trend analysis
    jurisdiction: EU
    report_kinds: [psur]
    mandatory: true
    required_evidence_types: [complaint_record]
  - id: OBL-EU-002
    title: Serious incident summary
    jurisdiction: EU
    report_kinds: [psur]
    mandatory: true
    required_evidence_types: [serious_incident]
  - id: OBL-EU-003
    title: Literature review
    jurisdiction: EU
    report_kinds: [psur]
    mandatory: false
    required_evidence_types: [literature_review]
constraints:
  - id: CON-EU-001
    description: Class III devices must include PMCF results
    jurisdiction: EU
    applicability: "case.risk_class == 'III'"
    required_evidence_type: pmcf_result
    severity: error
  - id: CON-EU-002
    description: Review period should not exceed one year
    jurisdiction: EU
    severity: warning
`

func kbSource(t *testing.T) *grkb.StaticSource {
	t.Helper()
	src, err := grkb.Load(strings.NewReader(kbDoc))
	require.NoError(t, err)
	return src
}

func slotTemplate(t *testing.T, version string, slots []contracts.Slot) templates.Template {
	t.Helper()
	v, err := semver.NewVersion(version)
	require.NoError(t, err)
	return &templates.SlotBased{
		TemplateID:      "tpl-test",
		TemplateVersion: v,
		Report:          "psur",
		Slots:           slots,
	}
}

func goodSlots() []contracts.Slot {
	return []contracts.Slot{
		{
			SlotID:                "complaint_trends",
			Title:                 "Complaint trends",
			RequiredEvidenceTypes: []contracts.EvidenceType{contracts.EvidenceComplaintRecord},
			ClaimedObligationIDs:  []string{"OBL-EU-001"},
		},
		{
			SlotID:                "incidents",
			Title:                 "Incidents",
			RequiredEvidenceTypes: []contracts.EvidenceType{contracts.EvidenceSeriousIncident},
			ClaimedObligationIDs:  []string{"OBL-EU-002"},
		},
		{
			SlotID:                "literature",
			Title:                 "Literature",
			RequiredEvidenceTypes: []contracts.EvidenceType{contracts.EvidenceLiterature},
			ClaimedObligationIDs:  []string{"OBL-EU-003"},
		},
	}
}

func newQualifier(t *testing.T) *Qualifier {
	t.Helper()
	q, err := NewQualifier(kbSource(t), nil)
	require.NoError(t, err)
	return q.WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	})
}

func TestQualifyCleanTemplatePasses(t *testing.T) {
	q := newQualifier(t)
	tpl := slotTemplate(t, "1.0.0", goodSlots())

	report, err := q.Qualify(context.Background(), tpl, []string{"EU"}, map[string]any{"risk_class": "IIa"})
	require.NoError(t, err)

	// Only the advisory constraint surfaces; no errors.
	assert.True(t, report.Passed)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, CodeConstraintAdvisory, report.Findings[0].Code)
	assert.Equal(t, contracts.SeverityWarning, report.Findings[0].Severity)
}

func TestQualifyUnknownObligationFails(t *testing.T) {
	q := newQualifier(t)
	slots := goodSlots()
	slots[0].ClaimedObligationIDs = []string{"OBL-EU-001", "OBL-EU-999"}
	tpl := slotTemplate(t, "1.0.0", slots)

	report, err := q.Qualify(context.Background(), tpl, []string{"EU"}, nil)
	require.NoError(t, err)
	assert.False(t, report.Passed)

	var found *contracts.QualificationFinding
	for i := range report.Findings {
		if report.Findings[i].Code == CodeUnknownObligation {
			found = &report.Findings[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "OBL-EU-999", found.ObligationID)
	assert.Equal(t, "complaint_trends", found.SlotID)
}

func TestQualifyUnclaimedMandatoryObligationFails(t *testing.T) {
	q := newQualifier(t)
	tpl := slotTemplate(t, "1.0.0", goodSlots()[:1]) // drops OBL-EU-002 and OBL-EU-003

	report, err := q.Qualify(context.Background(), tpl, []string{"EU"}, nil)
	require.NoError(t, err)
	assert.False(t, report.Passed)

	bySeverity := map[string]contracts.FindingSeverity{}
	for _, f := range report.Findings {
		if f.Code == CodeObligationUnclaimed {
			bySeverity[f.ObligationID] = f.Severity
		}
	}
	assert.Equal(t, contracts.SeverityError, bySeverity["OBL-EU-002"])
	assert.Equal(t, contracts.SeverityWarning, bySeverity["OBL-EU-003"])
}

func TestQualifyEvidenceTypeMismatchWarns(t *testing.T) {
	q := newQualifier(t)
	slots := goodSlots()
	// Claim the complaint obligation from a slot while no slot requires
	// complaint_record anywhere.
	slots[0].RequiredEvidenceTypes = []contracts.EvidenceType{contracts.EvidenceTrendReport}
	tpl := slotTemplate(t, "1.0.0", slots)

	report, err := q.Qualify(context.Background(), tpl, []string{"EU"}, nil)
	require.NoError(t, err)

	var codes []string
	for _, f := range report.Findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, CodeEvidenceTypeMismatch)
	// Warnings alone do not fail qualification.
	assert.True(t, report.Passed)
}

func TestQualifyConstraintViolationForClassIII(t *testing.T) {
	q := newQualifier(t)
	tpl := slotTemplate(t, "1.0.0", goodSlots())

	report, err := q.Qualify(context.Background(), tpl, []string{"EU"}, map[string]any{"risk_class": "III"})
	require.NoError(t, err)
	assert.False(t, report.Passed)

	var found *contracts.QualificationFinding
	for i := range report.Findings {
		if report.Findings[i].Code == CodeConstraintViolation {
			found = &report.Findings[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "CON-EU-001", found.ConstraintID)
	assert.Equal(t, contracts.SeverityError, found.Severity)
}

func TestQualifyVersionGate(t *testing.T) {
	q := newQualifier(t)
	tpl := slotTemplate(t, "0.9.0", goodSlots())

	report, err := q.Qualify(context.Background(), tpl, []string{"EU"}, nil)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, CodeVersionUnsupported, report.Findings[0].Code)
}

func TestQualifyUnknownJurisdiction(t *testing.T) {
	q := newQualifier(t)
	tpl := slotTemplate(t, "1.0.0", goodSlots())

	_, err := q.Qualify(context.Background(), tpl, []string{"MARS"}, nil)
	assert.ErrorIs(t, err, grkb.ErrUnknownJurisdiction)
}
