package evidence

import (
	"context"
	"sync"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// MemoryStore is an in-memory Store used in tests and single-shot CLI runs.
type MemoryStore struct {
	mu    sync.RWMutex
	atoms map[string][]contracts.EvidenceAtom // caseID -> insertion order
	index map[string]map[string]bool          // caseID -> atomID set
}

// NewMemoryStore creates an empty in-memory evidence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		atoms: make(map[string][]contracts.EvidenceAtom),
		index: make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) Persist(ctx context.Context, caseID string, atoms []contracts.EvidenceAtom) (*contracts.PersistResult, error) {
	if caseID == "" {
		return nil, ErrEmptyCaseID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index[caseID] == nil {
		s.index[caseID] = make(map[string]bool)
	}
	result := &contracts.PersistResult{InsertedIDs: []string{}}
	for _, atom := range atoms {
		if s.index[caseID][atom.AtomID] {
			result.SkippedCount++
			continue
		}
		atom.CaseID = caseID
		s.index[caseID][atom.AtomID] = true
		s.atoms[caseID] = append(s.atoms[caseID], atom)
		result.InsertedCount++
		result.InsertedIDs = append(result.InsertedIDs, atom.AtomID)
	}
	return result, nil
}

func (s *MemoryStore) ListByCase(ctx context.Context, caseID string) ([]contracts.EvidenceAtom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.EvidenceAtom, len(s.atoms[caseID]))
	copy(out, s.atoms[caseID])
	return out, nil
}

func (s *MemoryStore) CountByType(ctx context.Context, caseID string) (map[contracts.EvidenceType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[contracts.EvidenceType]int)
	for _, atom := range s.atoms[caseID] {
		counts[atom.EvidenceType]++
	}
	return counts, nil
}
