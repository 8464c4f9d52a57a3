package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

const slotDoc = `{
  "template_id": "tpl-psur-eu",
  "version": "1.2.0",
  "kind": "slot_based",
  "report_kind": "psur",
  "slots": [
    {
      "slot_id": "complaint_trends",
      "title": "Complaint trend analysis",
      "required_evidence_types": ["complaint_record", "trend_report"],
      "claimed_obligation_ids": ["OBL-EU-001"],
      "min_atoms": 2
    },
    {
      "slot_id": "incident_summary",
      "title": "Serious incident summary",
      "required_evidence_types": ["serious_incident"],
      "claimed_obligation_ids": ["OBL-EU-002"],
      "min_atoms": 1
    }
  ]
}`

const formDoc = `{
  "template_id": "tpl-pmsr-uk",
  "version": "2.0.0",
  "kind": "form_based",
  "report_kind": "pmsr",
  "sections": [
    {
      "section_id": "vigilance",
      "title": "Vigilance",
      "fields": [
        {
          "field_id": "summary",
          "label": "Vigilance summary",
          "required_evidence_types": ["vigilance_report"],
          "claimed_obligation_ids": ["OBL-UK-001"],
          "min_atoms": 1
        },
        {
          "field_id": "fsca",
          "label": "Field safety corrective actions",
          "required_evidence_types": ["fsca"],
          "claimed_obligation_ids": ["OBL-UK-001"]
        }
      ]
    }
  ]
}`

func TestLoadSlotBased(t *testing.T) {
	tpl, err := Load(strings.NewReader(slotDoc))
	require.NoError(t, err)
	assert.Equal(t, "tpl-psur-eu", tpl.ID())
	assert.Equal(t, KindSlotBased, tpl.Kind())
	assert.Equal(t, "1.2.0", tpl.Version().String())
	assert.Equal(t, "psur", tpl.ReportKind())

	slots := tpl.EffectiveSlots()
	require.Len(t, slots, 2)
	assert.Equal(t, "complaint_trends", slots[0].SlotID)
	assert.Equal(t, 2, slots[0].MinAtoms)
	assert.Equal(t, []contracts.EvidenceType{
		contracts.EvidenceComplaintRecord, contracts.EvidenceTrendReport,
	}, slots[0].RequiredEvidenceTypes)

	mapping := tpl.EffectiveMapping()
	assert.Equal(t, []string{"OBL-EU-001"}, mapping["complaint_trends"])
	assert.Equal(t, []string{"OBL-EU-002"}, mapping["incident_summary"])
}

func TestLoadFormBasedDerivesSlots(t *testing.T) {
	tpl, err := Load(strings.NewReader(formDoc))
	require.NoError(t, err)
	assert.Equal(t, KindFormBased, tpl.Kind())

	slots := tpl.EffectiveSlots()
	require.Len(t, slots, 2)
	assert.Equal(t, "vigilance.summary", slots[0].SlotID)
	assert.Equal(t, "vigilance.fsca", slots[1].SlotID)
	assert.Equal(t, "Vigilance summary", slots[0].Title)

	mapping := tpl.EffectiveMapping()
	assert.Equal(t, []string{"OBL-UK-001"}, mapping["vigilance.fsca"])
}

func TestClaimedObligationsDeduplicated(t *testing.T) {
	tpl, err := Load(strings.NewReader(formDoc))
	require.NoError(t, err)
	assert.Equal(t, []string{"OBL-UK-001"}, ClaimedObligations(tpl))
}

func TestRequiredEvidenceTypesSorted(t *testing.T) {
	tpl, err := Load(strings.NewReader(slotDoc))
	require.NoError(t, err)
	assert.Equal(t, []contracts.EvidenceType{
		contracts.EvidenceComplaintRecord,
		contracts.EvidenceSeriousIncident,
		contracts.EvidenceTrendReport,
	}, RequiredEvidenceTypes(tpl))
}

func TestLoadRejectsMissingFields(t *testing.T) {
	_, err := Load(strings.NewReader(`{"kind": "slot_based"}`))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestLoadRejectsSlotBasedWithoutSlots(t *testing.T) {
	doc := `{"template_id": "t", "version": "1.0.0", "kind": "slot_based", "report_kind": "psur"}`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestLoadRejectsBadVersion(t *testing.T) {
	doc := `{
	  "template_id": "t", "version": "latest", "kind": "slot_based", "report_kind": "psur",
	  "slots": [{"slot_id": "a", "title": "A"}]
	}`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestLoadRejectsDuplicateSlotIDs(t *testing.T) {
	doc := `{
	  "template_id": "t", "version": "1.0.0", "kind": "slot_based", "report_kind": "psur",
	  "slots": [
	    {"slot_id": "a", "title": "A"},
	    {"slot_id": "a", "title": "B"}
	  ]
	}`
	_, err := Load(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate slot id")
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	doc := `{"template_id": "t", "version": "1.0.0", "kind": "freeform", "report_kind": "psur"}`
	_, err := Load(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}
