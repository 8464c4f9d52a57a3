package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veridian-Labs/dossier/core/pkg/canonicalize"
	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

func sampleInput() Input {
	return Input{
		CaseID:     "case-1",
		TraceID:    "trace-1",
		TraceJSONL: []byte(`{"sequence_num":1}` + "\n" + `{"sequence_num":2}` + "\n"),
		ChainHead:  "abc123",
		Coverage: &contracts.CoverageReport{
			CaseID:          "case-1",
			TotalSlots:      4,
			AcceptedCount:   4,
			CoveragePercent: 100,
			Passed:          true,
		},
		Atoms: []contracts.EvidenceAtom{
			{
				AtomID:       "complaint_record:aaaaaaaaaaaa",
				CaseID:       "case-1",
				EvidenceType: contracts.EvidenceComplaintRecord,
				ContentHash:  "deadbeef",
			},
			{
				AtomID:         "fsca:bbbbbbbbbbbb",
				CaseID:         "case-1",
				EvidenceType:   contracts.EvidenceFSCA,
				ContentHash:    "cafef00d",
				NormalizedData: map[string]any{"is_negative_evidence": true},
			},
		},
		Qualification: &contracts.QualificationReport{
			TemplateID: "tpl-1",
			Passed:     true,
		},
		Document: &contracts.RenderedDocument{
			DocumentID:  "doc-1",
			Format:      "pdf",
			Bytes:       []byte("pdf bytes"),
			ContentHash: canonicalize.HashBytes([]byte("pdf bytes")),
		},
	}
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = content
	}
	return out
}

func TestBuildContainsAllMembers(t *testing.T) {
	exp := NewExporter(nil).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	b, err := exp.Build(sampleInput())
	require.NoError(t, err)
	assert.Equal(t, canonicalize.HashBytes(b.Zip), b.Checksum)

	files := readZip(t, b.Zip)
	for _, name := range []string{FileTrace, FileCoverage, FileRegister, FileQualification, "document.pdf", FileManifest} {
		assert.Contains(t, files, name)
	}
}

func TestManifestChecksumsMatchMembers(t *testing.T) {
	exp := NewExporter(nil)
	in := sampleInput()
	b, err := exp.Build(in)
	require.NoError(t, err)

	files := readZip(t, b.Zip)
	var manifest struct {
		BundleID  string            `json:"bundle_id"`
		CaseID    string            `json:"case_id"`
		ChainHead string            `json:"chain_head"`
		Checksums map[string]string `json:"checksums"`
		Document  struct {
			Name        string `json:"name"`
			ContentHash string `json:"content_hash"`
		} `json:"document"`
	}
	require.NoError(t, json.Unmarshal(files[FileManifest], &manifest))

	assert.Equal(t, b.BundleID, manifest.BundleID)
	assert.Equal(t, "case-1", manifest.CaseID)
	assert.Equal(t, "abc123", manifest.ChainHead)
	assert.Equal(t, "document.pdf", manifest.Document.Name)

	for name, want := range manifest.Checksums {
		assert.Equal(t, want, canonicalize.HashBytes(files[name]), "checksum mismatch for %s", name)
	}
	// The manifest itself is not self-referential.
	assert.NotContains(t, manifest.Checksums, FileManifest)
}

func TestEvidenceRegisterFlagsNegativeAtoms(t *testing.T) {
	exp := NewExporter(nil)
	b, err := exp.Build(sampleInput())
	require.NoError(t, err)

	files := readZip(t, b.Zip)
	var register struct {
		CaseID    string `json:"case_id"`
		AtomCount int    `json:"atom_count"`
		Atoms     []struct {
			AtomID   string `json:"atom_id"`
			Negative bool   `json:"negative"`
		} `json:"atoms"`
	}
	require.NoError(t, json.Unmarshal(files[FileRegister], &register))
	require.Equal(t, 2, register.AtomCount)
	assert.False(t, register.Atoms[0].Negative)
	assert.True(t, register.Atoms[1].Negative)
}

func TestBuildRejectsMissingInputs(t *testing.T) {
	exp := NewExporter(nil)

	in := sampleInput()
	in.CaseID = ""
	_, err := exp.Build(in)
	assert.ErrorIs(t, err, ErrEmptyCaseID)

	in = sampleInput()
	in.TraceJSONL = nil
	_, err = exp.Build(in)
	assert.ErrorIs(t, err, ErrNoTraceData)
}

func TestExportArchivesToFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exp := NewExporter(store)

	b, err := exp.Export(context.Background(), sampleInput())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(b.StorageURI, "file://"))

	stored, err := store.Get(context.Background(), b.CaseID+"/"+b.BundleID+".zip")
	require.NoError(t, err)
	assert.Equal(t, b.Checksum, canonicalize.HashBytes(stored))
}

func TestObjectStoreFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := NewObjectStore(context.Background(), StoreConfig{Backend: "tape"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
