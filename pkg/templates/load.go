package templates

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

const schemaURL = "https://dossier.schemas.local/template.schema.json"

// documentSchema constrains template documents before they are decoded into
// typed variants. Kind-specific requirements live in the allOf branches.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["template_id", "version", "kind", "report_kind"],
  "properties": {
    "template_id": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "kind": {"enum": ["slot_based", "form_based"]},
    "report_kind": {"type": "string", "minLength": 1},
    "slots": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["slot_id", "title"],
        "properties": {
          "slot_id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "required_evidence_types": {"type": "array", "items": {"type": "string"}},
          "claimed_obligation_ids": {"type": "array", "items": {"type": "string"}},
          "min_atoms": {"type": "integer", "minimum": 0}
        }
      }
    },
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["section_id", "fields"],
        "properties": {
          "section_id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "fields": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["field_id"],
              "properties": {
                "field_id": {"type": "string", "minLength": 1},
                "label": {"type": "string"},
                "required_evidence_types": {"type": "array", "items": {"type": "string"}},
                "claimed_obligation_ids": {"type": "array", "items": {"type": "string"}},
                "min_atoms": {"type": "integer", "minimum": 0}
              }
            }
          }
        }
      }
    }
  },
  "allOf": [
    {
      "if": {"properties": {"kind": {"const": "slot_based"}}},
      "then": {"required": ["slots"], "properties": {"slots": {"minItems": 1}}}
    },
    {
      "if": {"properties": {"kind": {"const": "form_based"}}},
      "then": {"required": ["sections"], "properties": {"sections": {"minItems": 1}}}
    }
  ]
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("templates: schema load: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

type slotRecord struct {
	SlotID                string   `json:"slot_id"`
	Title                 string   `json:"title"`
	RequiredEvidenceTypes []string `json:"required_evidence_types"`
	ClaimedObligationIDs  []string `json:"claimed_obligation_ids"`
	MinAtoms              int      `json:"min_atoms"`
}

type fieldRecord struct {
	FieldID               string   `json:"field_id"`
	Label                 string   `json:"label"`
	RequiredEvidenceTypes []string `json:"required_evidence_types"`
	ClaimedObligationIDs  []string `json:"claimed_obligation_ids"`
	MinAtoms              int      `json:"min_atoms"`
}

type sectionRecord struct {
	SectionID string        `json:"section_id"`
	Title     string        `json:"title"`
	Fields    []fieldRecord `json:"fields"`
}

type templateDocument struct {
	TemplateID string          `json:"template_id"`
	Version    string          `json:"version"`
	Kind       string          `json:"kind"`
	ReportKind string          `json:"report_kind"`
	Slots      []slotRecord    `json:"slots,omitempty"`
	Sections   []sectionRecord `json:"sections,omitempty"`
}

// Load reads a template document from JSON, validates it against the document
// schema, and returns the typed variant. Version strings must be semantic
// versions.
func Load(r io.Reader) (Template, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("templates: read document: %w", err)
	}
	var untyped any
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(untyped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	var doc templateDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	version, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidTemplate, doc.Version, err)
	}

	switch Kind(doc.Kind) {
	case KindSlotBased:
		t := &SlotBased{
			TemplateID:      doc.TemplateID,
			TemplateVersion: version,
			Report:          doc.ReportKind,
			Slots:           slotsFromRecords(doc.Slots),
		}
		if err := checkSlotIDsUnique(t.Slots); err != nil {
			return nil, err
		}
		return t, nil
	case KindFormBased:
		t := &FormBased{
			TemplateID:      doc.TemplateID,
			TemplateVersion: version,
			Report:          doc.ReportKind,
		}
		for _, sec := range doc.Sections {
			section := FormSection{SectionID: sec.SectionID, Title: sec.Title}
			for _, f := range sec.Fields {
				section.Fields = append(section.Fields, FormField{
					FieldID:               f.FieldID,
					Label:                 f.Label,
					RequiredEvidenceTypes: evidenceTypes(f.RequiredEvidenceTypes),
					ClaimedObligationIDs:  f.ClaimedObligationIDs,
					MinAtoms:              f.MinAtoms,
				})
			}
			t.Sections = append(t.Sections, section)
		}
		if err := checkSlotIDsUnique(t.EffectiveSlots()); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, doc.Kind)
	}
}

func slotsFromRecords(records []slotRecord) []contracts.Slot {
	out := make([]contracts.Slot, len(records))
	for i, r := range records {
		out[i] = contracts.Slot{
			SlotID:                r.SlotID,
			Title:                 r.Title,
			RequiredEvidenceTypes: evidenceTypes(r.RequiredEvidenceTypes),
			ClaimedObligationIDs:  r.ClaimedObligationIDs,
			MinAtoms:              r.MinAtoms,
		}
	}
	return out
}

func evidenceTypes(names []string) []contracts.EvidenceType {
	if len(names) == 0 {
		return nil
	}
	out := make([]contracts.EvidenceType, len(names))
	for i, n := range names {
		out[i] = contracts.EvidenceType(n)
	}
	return out
}
