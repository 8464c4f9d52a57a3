// Package templates defines report templates: the slot structure a case's
// document must fill, and how those slots claim regulatory obligations.
// Templates come in two shapes. Slot-based templates declare their slots
// directly. Form-based templates declare sections of form fields and derive
// one slot per field. Consumers only ever see the Template interface.
package templates

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

var (
	// ErrInvalidTemplate is returned when a template document fails schema
	// validation or carries inconsistent content.
	ErrInvalidTemplate = errors.New("templates: invalid template document")
	// ErrUnknownKind is returned for template kinds this build does not know.
	ErrUnknownKind = errors.New("templates: unknown template kind")
)

// Kind discriminates the template variants.
type Kind string

const (
	KindSlotBased Kind = "slot_based"
	KindFormBased Kind = "form_based"
)

// Template is the read-only view the pipeline works against. EffectiveSlots
// returns the slots in document order; EffectiveMapping returns, per slot id,
// the obligation ids that slot claims.
type Template interface {
	ID() string
	Version() *semver.Version
	Kind() Kind
	ReportKind() string
	EffectiveSlots() []contracts.Slot
	EffectiveMapping() map[string][]string
}

// SlotBased is a template whose slots are declared directly.
type SlotBased struct {
	TemplateID      string
	TemplateVersion *semver.Version
	Report          string
	Slots           []contracts.Slot
}

func (t *SlotBased) ID() string               { return t.TemplateID }
func (t *SlotBased) Version() *semver.Version { return t.TemplateVersion }
func (t *SlotBased) Kind() Kind               { return KindSlotBased }
func (t *SlotBased) ReportKind() string       { return t.Report }

func (t *SlotBased) EffectiveSlots() []contracts.Slot {
	out := make([]contracts.Slot, len(t.Slots))
	copy(out, t.Slots)
	return out
}

func (t *SlotBased) EffectiveMapping() map[string][]string {
	return mappingFromSlots(t.Slots)
}

// FormSection groups form fields under a heading.
type FormSection struct {
	SectionID string
	Title     string
	Fields    []FormField
}

// FormField is one fillable field of a form-based template. Each field
// becomes a slot with id "<sectionID>.<fieldID>".
type FormField struct {
	FieldID               string
	Label                 string
	RequiredEvidenceTypes []contracts.EvidenceType
	ClaimedObligationIDs  []string
	MinAtoms              int
}

// FormBased is a template declared as sections of form fields.
type FormBased struct {
	TemplateID      string
	TemplateVersion *semver.Version
	Report          string
	Sections        []FormSection
}

func (t *FormBased) ID() string               { return t.TemplateID }
func (t *FormBased) Version() *semver.Version { return t.TemplateVersion }
func (t *FormBased) Kind() Kind               { return KindFormBased }
func (t *FormBased) ReportKind() string       { return t.Report }

// EffectiveSlots flattens sections into slots, preserving document order.
func (t *FormBased) EffectiveSlots() []contracts.Slot {
	var out []contracts.Slot
	for _, sec := range t.Sections {
		for _, f := range sec.Fields {
			out = append(out, contracts.Slot{
				SlotID:                sec.SectionID + "." + f.FieldID,
				Title:                 f.Label,
				RequiredEvidenceTypes: append([]contracts.EvidenceType(nil), f.RequiredEvidenceTypes...),
				ClaimedObligationIDs:  append([]string(nil), f.ClaimedObligationIDs...),
				MinAtoms:              f.MinAtoms,
			})
		}
	}
	return out
}

func (t *FormBased) EffectiveMapping() map[string][]string {
	return mappingFromSlots(t.EffectiveSlots())
}

func mappingFromSlots(slots []contracts.Slot) map[string][]string {
	m := make(map[string][]string, len(slots))
	for _, s := range slots {
		ids := append([]string(nil), s.ClaimedObligationIDs...)
		sort.Strings(ids)
		m[s.SlotID] = ids
	}
	return m
}

// ClaimedObligations returns the deduplicated, sorted set of obligation ids
// claimed anywhere in the template.
func ClaimedObligations(t Template) []string {
	seen := map[string]bool{}
	for _, ids := range t.EffectiveMapping() {
		for _, id := range ids {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RequiredEvidenceTypes returns the deduplicated, sorted set of evidence
// types any slot of the template requires.
func RequiredEvidenceTypes(t Template) []contracts.EvidenceType {
	seen := map[contracts.EvidenceType]bool{}
	for _, s := range t.EffectiveSlots() {
		for _, et := range s.RequiredEvidenceTypes {
			seen[et] = true
		}
	}
	out := make([]contracts.EvidenceType, 0, len(seen))
	for et := range seen {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func checkSlotIDsUnique(slots []contracts.Slot) error {
	seen := map[string]bool{}
	for _, s := range slots {
		if s.SlotID == "" {
			return fmt.Errorf("%w: empty slot id", ErrInvalidTemplate)
		}
		if seen[s.SlotID] {
			return fmt.Errorf("%w: duplicate slot id %q", ErrInvalidTemplate, s.SlotID)
		}
		seen[s.SlotID] = true
	}
	return nil
}
