// Package evidence implements the content-addressed evidence store.
//
// Atoms are write-once: the store is a set keyed by (case_id, atom_id), and
// an atom id is a pure function of evidence type and canonicalized payload.
// Persisting the same atoms twice inserts nothing the second time.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veridian-Labs/dossier/core/pkg/canonicalize"
	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

var (
	// ErrUnknownEvidenceType is returned for types outside the closed vocabulary.
	ErrUnknownEvidenceType = errors.New("evidence: unknown evidence type")
	// ErrEmptyCaseID is returned when a case id is missing.
	ErrEmptyCaseID = errors.New("evidence: case_id must not be empty")
	// ErrNoEvidence signals that a case has zero atoms of any type. A report
	// must never be generated from no evidence, so callers treat this as a
	// hard failure.
	ErrNoEvidence = errors.New("evidence: no atoms exist for case")
)

// persistBatchSize bounds lookup and insert statement sizes for large
// ingestions (thousands of rows).
const persistBatchSize = 500

// Store is the read/write contract for evidence atoms.
type Store interface {
	// Persist inserts unseen atoms for a case. Idempotent: atoms whose
	// (case_id, atom_id) already exist are skipped.
	Persist(ctx context.Context, caseID string, atoms []contracts.EvidenceAtom) (*contracts.PersistResult, error)
	// ListByCase returns the case's atoms in stable insertion order. This is
	// the authoritative evidence universe for a run.
	ListByCase(ctx context.Context, caseID string) ([]contracts.EvidenceAtom, error)
	// CountByType returns per-type atom counts for a case.
	CountByType(ctx context.Context, caseID string) (map[contracts.EvidenceType]int, error)
}

// AtomID derives the deterministic id for an atom:
// evidenceType + ":" + first 12 hex chars of SHA-256 over the RFC 8785
// canonical form of normalizedData. Key order in the payload never changes
// the id.
func AtomID(evidenceType contracts.EvidenceType, normalizedData map[string]any) (string, error) {
	hash, err := canonicalize.CanonicalHash(normalizedData)
	if err != nil {
		return "", fmt.Errorf("evidence: atom id hash failed: %w", err)
	}
	return string(evidenceType) + ":" + hash[:12], nil
}

// NewAtom builds an immutable atom from a normalized payload. The returned
// atom carries both the full content hash and the derived atom id.
func NewAtom(caseID string, evidenceType contracts.EvidenceType, normalizedData map[string]any, prov contracts.Provenance) (*contracts.EvidenceAtom, error) {
	if caseID == "" {
		return nil, ErrEmptyCaseID
	}
	if !contracts.KnownEvidenceTypes[evidenceType] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvidenceType, evidenceType)
	}
	contentHash, err := canonicalize.CanonicalHash(normalizedData)
	if err != nil {
		return nil, fmt.Errorf("evidence: content hash failed: %w", err)
	}
	return &contracts.EvidenceAtom{
		AtomID:         string(evidenceType) + ":" + contentHash[:12],
		CaseID:         caseID,
		EvidenceType:   evidenceType,
		ContentHash:    contentHash,
		NormalizedData: normalizedData,
		Provenance:     prov,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// RequireNonEmpty returns ErrNoEvidence when the case's evidence universe is
// empty. Ingestion calls this after persisting so the workflow hard-fails
// rather than authoring a report from nothing.
func RequireNonEmpty(ctx context.Context, store Store, caseID string) error {
	counts, err := store.CountByType(ctx, caseID)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return fmt.Errorf("%w: %s", ErrNoEvidence, caseID)
	}
	return nil
}
