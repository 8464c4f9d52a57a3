package contracts

// Obligation is a single regulatory requirement clause from a jurisdiction's
// rule set. Slots claim obligation ids; coverage is computed against the full
// set for the case's jurisdictions.
type Obligation struct {
	ID                    string         `json:"id"`
	Title                 string         `json:"title"`
	Text                  string         `json:"text"`
	SourceCitation        string         `json:"source_citation"`
	Jurisdiction          string         `json:"jurisdiction"`
	Mandatory             bool           `json:"mandatory"`
	RequiredEvidenceTypes []EvidenceType `json:"required_evidence_types"`
}

// Constraint is a structural rule a template must satisfy for a jurisdiction.
// Applicability is a CEL expression over the case descriptor; a constraint
// whose expression evaluates false for the case is skipped during
// qualification. An applicable constraint demands that the template contain
// the named slot and/or require the named evidence type somewhere; a
// constraint naming neither is advisory and only surfaces its description.
type Constraint struct {
	ID                   string       `json:"id"`
	Description          string       `json:"description"`
	Jurisdiction         string       `json:"jurisdiction"`
	Applicability        string       `json:"applicability,omitempty"`
	RequiredSlotID       string       `json:"required_slot_id,omitempty"`
	RequiredEvidenceType EvidenceType `json:"required_evidence_type,omitempty"`
	Severity             string       `json:"severity"` // "error" or "warning"
}
