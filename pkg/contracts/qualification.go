package contracts

import "time"

// FindingSeverity grades a qualification finding. Any "error" finding
// hard-fails the run before evidence is touched.
type FindingSeverity string

const (
	SeverityError   FindingSeverity = "error"
	SeverityWarning FindingSeverity = "warning"
)

// QualificationFinding is one lint result from checking a template against
// the obligation knowledge base.
type QualificationFinding struct {
	Code         string          `json:"code"`
	Severity     FindingSeverity `json:"severity"`
	Message      string          `json:"message"`
	SlotID       string          `json:"slot_id,omitempty"`
	ObligationID string          `json:"obligation_id,omitempty"`
	ConstraintID string          `json:"constraint_id,omitempty"`
}

// QualificationReport is the step-1 output: the template either qualifies for
// the case's jurisdictions or the run aborts.
type QualificationReport struct {
	TemplateID      string                 `json:"template_id"`
	TemplateVersion string                 `json:"template_version"`
	Jurisdictions   []string               `json:"jurisdictions"`
	Findings        []QualificationFinding `json:"findings"`
	Passed          bool                   `json:"passed"`
	CheckedAt       time.Time              `json:"checked_at"`
}

// ErrorCount returns the number of error-severity findings.
func (r *QualificationReport) ErrorCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			n++
		}
	}
	return n
}

// RenderedDocument is the opaque artifact handle returned by the external
// document renderer.
type RenderedDocument struct {
	DocumentID  string            `json:"document_id"`
	Format      string            `json:"format"` // "docx", "pdf"
	Bytes       []byte            `json:"-"`
	ContentHash string            `json:"content_hash"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RenderedAt  time.Time         `json:"rendered_at"`
}
