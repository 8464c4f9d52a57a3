// Package qualify lints a report template against the obligation knowledge
// base before any evidence is touched. The output is a qualification report;
// any error-severity finding hard-fails the run.
package qualify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
	"github.com/Veridian-Labs/dossier/core/pkg/grkb"
	"github.com/Veridian-Labs/dossier/core/pkg/templates"
)

// Finding codes. Stable identifiers for downstream filtering.
const (
	CodeVersionUnsupported   = "version_unsupported"
	CodeUnknownObligation    = "unknown_obligation"
	CodeObligationUnclaimed  = "obligation_unclaimed"
	CodeEvidenceTypeMismatch = "evidence_type_mismatch"
	CodeConstraintViolation  = "constraint_violation"
	CodeConstraintAdvisory   = "constraint_advisory"
	CodeConstraintEvalError  = "constraint_eval_error"
)

// DefaultSupportedVersions is the template version gate applied when none is
// configured.
const DefaultSupportedVersions = ">= 1.0.0"

// ErrNoSource is returned when the qualifier is constructed without a
// knowledge base.
var ErrNoSource = errors.New("qualify: knowledge base source is required")

// Qualifier checks a template against the knowledge base for a case.
type Qualifier struct {
	source    grkb.Source
	evaluator *grkb.ApplicabilityEvaluator
	supported *semver.Constraints
	clock     func() time.Time
}

// NewQualifier builds a qualifier over the given knowledge base. The
// applicability evaluator is shared so compiled constraint programs are
// reused across runs.
func NewQualifier(source grkb.Source, evaluator *grkb.ApplicabilityEvaluator) (*Qualifier, error) {
	if source == nil {
		return nil, ErrNoSource
	}
	if evaluator == nil {
		var err error
		evaluator, err = grkb.NewApplicabilityEvaluator()
		if err != nil {
			return nil, err
		}
	}
	supported, err := semver.NewConstraint(DefaultSupportedVersions)
	if err != nil {
		return nil, fmt.Errorf("qualify: default version constraint: %w", err)
	}
	return &Qualifier{
		source:    source,
		evaluator: evaluator,
		supported: supported,
		clock:     time.Now,
	}, nil
}

// WithSupportedVersions overrides the template version gate.
func (q *Qualifier) WithSupportedVersions(c *semver.Constraints) *Qualifier {
	q.supported = c
	return q
}

// WithClock overrides the timestamp source.
func (q *Qualifier) WithClock(clock func() time.Time) *Qualifier {
	q.clock = clock
	return q
}

// Qualify lints the template for the given jurisdictions. The descriptor
// carries case facts for constraint applicability expressions (risk class,
// device code and so on); report kind is taken from the template.
func (q *Qualifier) Qualify(ctx context.Context, tpl templates.Template, jurisdictions []string, descriptor map[string]any) (*contracts.QualificationReport, error) {
	obligations, err := q.source.ObligationsFor(ctx, jurisdictions, tpl.ReportKind())
	if err != nil {
		return nil, fmt.Errorf("qualify: load obligations: %w", err)
	}
	constraints, err := q.source.ConstraintsFor(ctx, jurisdictions, tpl.ReportKind())
	if err != nil {
		return nil, fmt.Errorf("qualify: load constraints: %w", err)
	}

	report := &contracts.QualificationReport{
		TemplateID:      tpl.ID(),
		TemplateVersion: tpl.Version().String(),
		Jurisdictions:   append([]string(nil), jurisdictions...),
		CheckedAt:       q.clock().UTC(),
	}

	report.Findings = append(report.Findings, q.checkVersion(tpl)...)
	report.Findings = append(report.Findings, checkObligationClaims(tpl, obligations)...)
	report.Findings = append(report.Findings, q.checkConstraints(tpl, constraints, descriptor)...)

	report.Passed = report.ErrorCount() == 0
	return report, nil
}

func (q *Qualifier) checkVersion(tpl templates.Template) []contracts.QualificationFinding {
	if q.supported.Check(tpl.Version()) {
		return nil
	}
	return []contracts.QualificationFinding{{
		Code:     CodeVersionUnsupported,
		Severity: contracts.SeverityError,
		Message: fmt.Sprintf("template %s version %s does not satisfy %s",
			tpl.ID(), tpl.Version(), q.supported),
	}}
}

// checkObligationClaims cross-references the template's claims against the
// obligation set: claims of unknown obligations are errors, unclaimed
// mandatory obligations are errors, unclaimed optional ones are warnings, and
// a claim whose obligation needs evidence types the template never requires
// anywhere is flagged as a mismatch.
func checkObligationClaims(tpl templates.Template, obligations []contracts.Obligation) []contracts.QualificationFinding {
	var findings []contracts.QualificationFinding

	byID := make(map[string]contracts.Obligation, len(obligations))
	for _, ob := range obligations {
		byID[ob.ID] = ob
	}
	required := map[contracts.EvidenceType]bool{}
	for _, et := range templates.RequiredEvidenceTypes(tpl) {
		required[et] = true
	}

	claimed := map[string]bool{}
	for _, slot := range tpl.EffectiveSlots() {
		for _, id := range slot.ClaimedObligationIDs {
			claimed[id] = true
			ob, ok := byID[id]
			if !ok {
				findings = append(findings, contracts.QualificationFinding{
					Code:         CodeUnknownObligation,
					Severity:     contracts.SeverityError,
					Message:      fmt.Sprintf("slot %s claims unknown obligation %s", slot.SlotID, id),
					SlotID:       slot.SlotID,
					ObligationID: id,
				})
				continue
			}
			for _, et := range ob.RequiredEvidenceTypes {
				if !required[et] {
					findings = append(findings, contracts.QualificationFinding{
						Code:     CodeEvidenceTypeMismatch,
						Severity: contracts.SeverityWarning,
						Message: fmt.Sprintf("slot %s claims obligation %s but no slot requires evidence type %s",
							slot.SlotID, id, et),
						SlotID:       slot.SlotID,
						ObligationID: id,
					})
				}
			}
		}
	}

	for _, ob := range obligations {
		if claimed[ob.ID] {
			continue
		}
		severity := contracts.SeverityWarning
		if ob.Mandatory {
			severity = contracts.SeverityError
		}
		findings = append(findings, contracts.QualificationFinding{
			Code:         CodeObligationUnclaimed,
			Severity:     severity,
			Message:      fmt.Sprintf("obligation %s (%s) is not claimed by any slot", ob.ID, ob.Title),
			ObligationID: ob.ID,
		})
	}
	return findings
}

func (q *Qualifier) checkConstraints(tpl templates.Template, constraints []contracts.Constraint, descriptor map[string]any) []contracts.QualificationFinding {
	var findings []contracts.QualificationFinding

	slotIDs := map[string]bool{}
	required := map[contracts.EvidenceType]bool{}
	for _, slot := range tpl.EffectiveSlots() {
		slotIDs[slot.SlotID] = true
		for _, et := range slot.RequiredEvidenceTypes {
			required[et] = true
		}
	}

	for _, c := range constraints {
		applies, err := q.evaluator.Applies(c.Applicability, descriptor)
		if err != nil {
			findings = append(findings, contracts.QualificationFinding{
				Code:         CodeConstraintEvalError,
				Severity:     contracts.SeverityError,
				Message:      fmt.Sprintf("constraint %s applicability failed: %v", c.ID, err),
				ConstraintID: c.ID,
			})
			continue
		}
		if !applies {
			continue
		}

		checked := false
		if c.RequiredSlotID != "" {
			checked = true
			if !slotIDs[c.RequiredSlotID] {
				findings = append(findings, contracts.QualificationFinding{
					Code:         CodeConstraintViolation,
					Severity:     contracts.FindingSeverity(c.Severity),
					Message:      fmt.Sprintf("constraint %s: template lacks required slot %s (%s)", c.ID, c.RequiredSlotID, c.Description),
					SlotID:       c.RequiredSlotID,
					ConstraintID: c.ID,
				})
			}
		}
		if c.RequiredEvidenceType != "" {
			checked = true
			if !required[c.RequiredEvidenceType] {
				findings = append(findings, contracts.QualificationFinding{
					Code:         CodeConstraintViolation,
					Severity:     contracts.FindingSeverity(c.Severity),
					Message:      fmt.Sprintf("constraint %s: no slot requires evidence type %s (%s)", c.ID, c.RequiredEvidenceType, c.Description),
					ConstraintID: c.ID,
				})
			}
		}
		if !checked {
			findings = append(findings, contracts.QualificationFinding{
				Code:         CodeConstraintAdvisory,
				Severity:     contracts.SeverityWarning,
				Message:      fmt.Sprintf("constraint %s applies: %s", c.ID, c.Description),
				ConstraintID: c.ID,
			})
		}
	}
	return findings
}
