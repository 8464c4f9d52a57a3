package contracts

import "time"

// EvidenceType identifies one kind of supporting record. The vocabulary is
// closed: ingestion rejects types outside this set.
type EvidenceType string

const (
	EvidenceSalesRecord     EvidenceType = "sales_record"
	EvidenceComplaintRecord EvidenceType = "complaint_record"
	EvidenceSeriousIncident EvidenceType = "serious_incident"
	EvidenceFSCA            EvidenceType = "fsca"
	EvidenceCAPA            EvidenceType = "capa"
	EvidenceRecall          EvidenceType = "recall"
	EvidenceSignal          EvidenceType = "signal"
	EvidenceVigilanceReport EvidenceType = "vigilance_report"
	EvidenceNonconformance  EvidenceType = "nonconformance"
	EvidenceLiterature      EvidenceType = "literature_review"
	EvidencePMCFResult      EvidenceType = "pmcf_result"
	EvidenceClinicalData    EvidenceType = "clinical_data"
	EvidenceRiskAssessment  EvidenceType = "risk_assessment"
	EvidenceTrendReport     EvidenceType = "trend_report"
	EvidenceUsageData       EvidenceType = "usage_data"
)

// KnownEvidenceTypes is the closed ingestion vocabulary.
var KnownEvidenceTypes = map[EvidenceType]bool{
	EvidenceSalesRecord:     true,
	EvidenceComplaintRecord: true,
	EvidenceSeriousIncident: true,
	EvidenceFSCA:            true,
	EvidenceCAPA:            true,
	EvidenceRecall:          true,
	EvidenceSignal:          true,
	EvidenceVigilanceReport: true,
	EvidenceNonconformance:  true,
	EvidenceLiterature:      true,
	EvidencePMCFResult:      true,
	EvidenceClinicalData:    true,
	EvidenceRiskAssessment:  true,
	EvidenceTrendReport:     true,
	EvidenceUsageData:       true,
}

// Provenance records where an atom's payload came from.
type Provenance struct {
	SourceFile  string    `json:"source_file,omitempty"`
	UploadID    string    `json:"upload_id,omitempty"`
	DeviceCode  string    `json:"device_code,omitempty"`
	PeriodStart time.Time `json:"period_start,omitempty"`
	PeriodEnd   time.Time `json:"period_end,omitempty"`
	ExtractedAt time.Time `json:"extracted_at,omitempty"`
}

// EvidenceAtom is an immutable, content-addressed fact unit. Atoms are never
// mutated or deleted; superseding data means appending a new atom.
type EvidenceAtom struct {
	AtomID         string         `json:"atom_id"`
	CaseID         string         `json:"case_id"`
	EvidenceType   EvidenceType   `json:"evidence_type"`
	ContentHash    string         `json:"content_hash"`
	NormalizedData map[string]any `json:"normalized_data"`
	Provenance     Provenance     `json:"provenance"`
	CreatedAt      time.Time      `json:"created_at"`
}

// IsNegative reports whether the atom is synthesized negative evidence: an
// assertion that zero events of its type occurred in the reporting period.
func (a *EvidenceAtom) IsNegative() bool {
	v, ok := a.NormalizedData["is_negative_evidence"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// PersistResult reports the outcome of one idempotent persist call.
type PersistResult struct {
	InsertedCount int      `json:"inserted_count"`
	InsertedIDs   []string `json:"inserted_ids"`
	SkippedCount  int      `json:"skipped_count"`
}
