package trace

import (
	"context"
	"fmt"
	"sync"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// MemoryEntryStore is an in-memory EntryStore for tests and single-shot runs.
type MemoryEntryStore struct {
	mu        sync.RWMutex
	byCase    map[string]string // caseID -> traceID
	entries   map[string][]contracts.TraceEntry
	summaries map[string]*contracts.TraceSummary
}

// NewMemoryEntryStore creates an empty in-memory entry store.
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{
		byCase:    make(map[string]string),
		entries:   make(map[string][]contracts.TraceEntry),
		summaries: make(map[string]*contracts.TraceSummary),
	}
}

func (s *MemoryEntryStore) CreateTrace(ctx context.Context, traceID, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCase[caseID]; ok {
		return fmt.Errorf("%w: %s", ErrTraceExists, caseID)
	}
	s.byCase[caseID] = traceID
	s.entries[traceID] = nil
	s.summaries[traceID] = &contracts.TraceSummary{TraceID: traceID, CaseID: caseID}
	return nil
}

func (s *MemoryEntryStore) TraceForCase(ctx context.Context, caseID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	traceID, ok := s.byCase[caseID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTrace, caseID)
	}
	return traceID, nil
}

func (s *MemoryEntryStore) LatestEntry(ctx context.Context, traceID string) (*contracts.TraceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.entries[traceID]
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (s *MemoryEntryStore) AppendEntry(ctx context.Context, entry *contracts.TraceEntry, delta SummaryDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[entry.TraceID]
	if uint64(len(list))+1 != entry.SequenceNum {
		return fmt.Errorf("%w: sequence %d, trace has %d entries", ErrSequenceConflict, entry.SequenceNum, len(list))
	}
	s.entries[entry.TraceID] = append(list, *entry)
	if sum := s.summaries[entry.TraceID]; sum != nil {
		sum.EntryCount++
		sum.AcceptedCount += delta.Accepted
		sum.RejectedCount += delta.Rejected
		sum.GapCount += delta.Gaps
	}
	return nil
}

func (s *MemoryEntryStore) ListEntries(ctx context.Context, traceID string) ([]contracts.TraceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.TraceEntry, len(s.entries[traceID]))
	copy(out, s.entries[traceID])
	return out, nil
}

func (s *MemoryEntryStore) Summary(ctx context.Context, traceID string) (*contracts.TraceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[traceID]
	if !ok {
		return nil, fmt.Errorf("%w: trace %s", ErrNoTrace, traceID)
	}
	out := *sum
	return &out, nil
}

// Tamper overwrites one stored entry in place, bypassing the ledger. Only
// tests use it, to prove that verification catches mutated history.
func (s *MemoryEntryStore) Tamper(traceID string, sequence uint64, mutate func(*contracts.TraceEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[traceID]
	for i := range list {
		if list[i].SequenceNum == sequence {
			mutate(&list[i])
			return
		}
	}
}
