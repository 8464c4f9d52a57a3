package grkb

import (
	"context"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// document is the YAML shape of a knowledge base file.
type document struct {
	Version     string             `yaml:"version"`
	Obligations []obligationRecord `yaml:"obligations"`
	Constraints []constraintRecord `yaml:"constraints"`
}

type obligationRecord struct {
	ID                    string   `yaml:"id"`
	Title                 string   `yaml:"title"`
	Text                  string   `yaml:"text"`
	SourceCitation        string   `yaml:"source_citation"`
	Jurisdiction          string   `yaml:"jurisdiction"`
	ReportKinds           []string `yaml:"report_kinds"`
	Mandatory             bool     `yaml:"mandatory"`
	RequiredEvidenceTypes []string `yaml:"required_evidence_types"`
}

type constraintRecord struct {
	ID                   string   `yaml:"id"`
	Description          string   `yaml:"description"`
	Jurisdiction         string   `yaml:"jurisdiction"`
	ReportKinds          []string `yaml:"report_kinds"`
	Applicability        string   `yaml:"applicability"`
	RequiredSlotID       string   `yaml:"required_slot_id"`
	RequiredEvidenceType string   `yaml:"required_evidence_type"`
	Severity             string   `yaml:"severity"`
}

// StaticSource is a Source backed by an in-memory knowledge base loaded from
// YAML. Queries are deterministic: results come back sorted by id.
type StaticSource struct {
	version     string
	obligations []obligationRecord
	constraints []constraintRecord
	known       map[string]bool // jurisdictions present in the document
}

// Load reads a knowledge base document from YAML.
func Load(r io.Reader) (*StaticSource, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	known := map[string]bool{}
	for _, ob := range doc.Obligations {
		if ob.ID == "" || ob.Jurisdiction == "" {
			return nil, fmt.Errorf("%w: obligation missing id or jurisdiction", ErrBadDocument)
		}
		for _, t := range ob.RequiredEvidenceTypes {
			if !contracts.KnownEvidenceTypes[contracts.EvidenceType(t)] {
				return nil, fmt.Errorf("%w: obligation %s requires unknown evidence type %q", ErrBadDocument, ob.ID, t)
			}
		}
		known[ob.Jurisdiction] = true
	}
	for _, c := range doc.Constraints {
		if c.ID == "" || c.Jurisdiction == "" {
			return nil, fmt.Errorf("%w: constraint missing id or jurisdiction", ErrBadDocument)
		}
		if c.Severity != string(contracts.SeverityError) && c.Severity != string(contracts.SeverityWarning) {
			return nil, fmt.Errorf("%w: constraint %s has severity %q", ErrBadDocument, c.ID, c.Severity)
		}
		if c.RequiredEvidenceType != "" && !contracts.KnownEvidenceTypes[contracts.EvidenceType(c.RequiredEvidenceType)] {
			return nil, fmt.Errorf("%w: constraint %s requires unknown evidence type %q", ErrBadDocument, c.ID, c.RequiredEvidenceType)
		}
		known[c.Jurisdiction] = true
	}
	return &StaticSource{
		version:     doc.Version,
		obligations: doc.Obligations,
		constraints: doc.Constraints,
		known:       known,
	}, nil
}

// Version returns the loaded document version.
func (s *StaticSource) Version() string { return s.version }

func (s *StaticSource) ObligationsFor(ctx context.Context, jurisdictions []string, reportKind string) ([]contracts.Obligation, error) {
	if err := s.checkJurisdictions(jurisdictions); err != nil {
		return nil, err
	}
	wanted := toSet(jurisdictions)
	out := make([]contracts.Obligation, 0)
	for _, ob := range s.obligations {
		if !wanted[ob.Jurisdiction] || !kindMatches(ob.ReportKinds, reportKind) {
			continue
		}
		types := make([]contracts.EvidenceType, len(ob.RequiredEvidenceTypes))
		for i, t := range ob.RequiredEvidenceTypes {
			types[i] = contracts.EvidenceType(t)
		}
		out = append(out, contracts.Obligation{
			ID:                    ob.ID,
			Title:                 ob.Title,
			Text:                  ob.Text,
			SourceCitation:        ob.SourceCitation,
			Jurisdiction:          ob.Jurisdiction,
			Mandatory:             ob.Mandatory,
			RequiredEvidenceTypes: types,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *StaticSource) ConstraintsFor(ctx context.Context, jurisdictions []string, reportKind string) ([]contracts.Constraint, error) {
	if err := s.checkJurisdictions(jurisdictions); err != nil {
		return nil, err
	}
	wanted := toSet(jurisdictions)
	out := make([]contracts.Constraint, 0)
	for _, c := range s.constraints {
		if !wanted[c.Jurisdiction] || !kindMatches(c.ReportKinds, reportKind) {
			continue
		}
		out = append(out, contracts.Constraint{
			ID:                   c.ID,
			Description:          c.Description,
			Jurisdiction:         c.Jurisdiction,
			Applicability:        c.Applicability,
			RequiredSlotID:       c.RequiredSlotID,
			RequiredEvidenceType: contracts.EvidenceType(c.RequiredEvidenceType),
			Severity:             c.Severity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *StaticSource) checkJurisdictions(jurisdictions []string) error {
	for _, j := range jurisdictions {
		if !s.known[j] {
			return fmt.Errorf("%w: %q", ErrUnknownJurisdiction, j)
		}
	}
	return nil
}

func kindMatches(kinds []string, reportKind string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == reportKind {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
