// Package bundle assembles and archives the audit bundle for a finished run:
// the decision trace, coverage report, evidence register, qualification
// report and the rendered document, zipped with a checksummed manifest.
package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veridian-Labs/dossier/core/pkg/canonicalize"
	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// Fixed bundle member names.
const (
	FileTrace         = "trace.jsonl"
	FileCoverage      = "coverage_report.json"
	FileRegister      = "evidence_register.json"
	FileQualification = "qualification_report.json"
	FileManifest      = "manifest.json"
)

var (
	// ErrEmptyCaseID is returned when the input names no case.
	ErrEmptyCaseID = errors.New("bundle: case id must not be empty")
	// ErrNoTraceData is returned when the input carries no trace export.
	ErrNoTraceData = errors.New("bundle: trace export must not be empty")
)

// Input collects the run artifacts to package.
type Input struct {
	CaseID        string
	TraceID       string
	TraceJSONL    []byte
	ChainHead     string
	Coverage      *contracts.CoverageReport
	Atoms         []contracts.EvidenceAtom
	Qualification *contracts.QualificationReport
	Document      *contracts.RenderedDocument
}

// Bundle is a finished, checksummed archive.
type Bundle struct {
	BundleID    string    `json:"bundle_id"`
	CaseID      string    `json:"case_id"`
	Zip         []byte    `json:"-"`
	Checksum    string    `json:"checksum"`
	Files       []string  `json:"files"`
	StorageURI  string    `json:"storage_uri,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// registerEntry is one line of the evidence register artifact.
type registerEntry struct {
	AtomID       string               `json:"atom_id"`
	EvidenceType string               `json:"evidence_type"`
	ContentHash  string               `json:"content_hash"`
	Negative     bool                 `json:"negative"`
	Provenance   contracts.Provenance `json:"provenance"`
	CreatedAt    time.Time            `json:"created_at"`
}

// Exporter builds bundles and optionally archives them.
type Exporter struct {
	store ObjectStore
	clock func() time.Time
}

// NewExporter builds an exporter. store may be nil; Build still works and
// Export fails.
func NewExporter(store ObjectStore) *Exporter {
	return &Exporter{store: store, clock: time.Now}
}

// WithClock overrides the timestamp source.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Build assembles the zip and its checksum without archiving it.
func (e *Exporter) Build(in Input) (*Bundle, error) {
	if in.CaseID == "" {
		return nil, ErrEmptyCaseID
	}
	if len(in.TraceJSONL) == 0 {
		return nil, ErrNoTraceData
	}

	generatedAt := e.clock().UTC()
	bundleID := uuid.NewString()

	type member struct {
		name string
		data []byte
	}
	members := []member{{FileTrace, in.TraceJSONL}}

	if in.Coverage != nil {
		data, err := json.MarshalIndent(in.Coverage, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("bundle: marshal coverage report: %w", err)
		}
		members = append(members, member{FileCoverage, data})
	}

	register := struct {
		CaseID    string          `json:"case_id"`
		AtomCount int             `json:"atom_count"`
		Atoms     []registerEntry `json:"atoms"`
	}{CaseID: in.CaseID, AtomCount: len(in.Atoms), Atoms: make([]registerEntry, 0, len(in.Atoms))}
	for i := range in.Atoms {
		a := &in.Atoms[i]
		register.Atoms = append(register.Atoms, registerEntry{
			AtomID:       a.AtomID,
			EvidenceType: string(a.EvidenceType),
			ContentHash:  a.ContentHash,
			Negative:     a.IsNegative(),
			Provenance:   a.Provenance,
			CreatedAt:    a.CreatedAt,
		})
	}
	registerJSON, err := json.MarshalIndent(register, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal evidence register: %w", err)
	}
	members = append(members, member{FileRegister, registerJSON})

	if in.Qualification != nil {
		data, err := json.MarshalIndent(in.Qualification, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("bundle: marshal qualification report: %w", err)
		}
		members = append(members, member{FileQualification, data})
	}

	var documentName string
	if in.Document != nil {
		documentName = "document." + in.Document.Format
		members = append(members, member{documentName, in.Document.Bytes})
	}

	checksums := make(map[string]string, len(members))
	names := make([]string, 0, len(members)+1)
	for _, m := range members {
		checksums[m.name] = canonicalize.HashBytes(m.data)
		names = append(names, m.name)
	}

	manifest := map[string]any{
		"bundle_id":    bundleID,
		"case_id":      in.CaseID,
		"trace_id":     in.TraceID,
		"generated_at": generatedAt,
		"chain_head":   in.ChainHead,
		"checksums":    checksums,
	}
	if in.Document != nil {
		manifest["document"] = map[string]any{
			"name":         documentName,
			"document_id":  in.Document.DocumentID,
			"content_hash": in.Document.ContentHash,
		}
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	members = append(members, member{FileManifest, manifestJSON})
	names = append(names, FileManifest)

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, m := range members {
		f, err := w.Create(m.name)
		if err != nil {
			return nil, fmt.Errorf("bundle: add %s: %w", m.name, err)
		}
		if _, err := f.Write(m.data); err != nil {
			return nil, fmt.Errorf("bundle: write %s: %w", m.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bundle: close zip: %w", err)
	}

	zipBytes := buf.Bytes()
	return &Bundle{
		BundleID:    bundleID,
		CaseID:      in.CaseID,
		Zip:         zipBytes,
		Checksum:    canonicalize.HashBytes(zipBytes),
		Files:       names,
		GeneratedAt: generatedAt,
	}, nil
}

// Export builds the bundle and archives it under <caseID>/<bundleID>.zip.
// Without an object store the bundle is built but not archived.
func (e *Exporter) Export(ctx context.Context, in Input) (*Bundle, error) {
	b, err := e.Build(in)
	if err != nil {
		return nil, err
	}
	if e.store == nil {
		return b, nil
	}
	uri, err := e.store.Put(ctx, b.CaseID+"/"+b.BundleID+".zip", b.Zip)
	if err != nil {
		return nil, err
	}
	b.StorageURI = uri
	return b, nil
}
