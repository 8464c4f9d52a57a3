package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// ErrCaseNotFound is returned when a case id has never been created.
var ErrCaseNotFound = errors.New("workflow: case not found")

// CaseStore persists workflow cases. Cases are created once; later runs
// resume and bump the version.
type CaseStore interface {
	Get(ctx context.Context, caseID string) (*contracts.WorkflowCase, error)
	Create(ctx context.Context, c *contracts.WorkflowCase) error
	Update(ctx context.Context, c *contracts.WorkflowCase) error
}

// MemoryCaseStore is the in-process CaseStore.
type MemoryCaseStore struct {
	mu    sync.Mutex
	cases map[string]contracts.WorkflowCase
}

// NewMemoryCaseStore builds an empty store.
func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{cases: make(map[string]contracts.WorkflowCase)}
}

func (s *MemoryCaseStore) Get(ctx context.Context, caseID string) (*contracts.WorkflowCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	out := c
	return &out, nil
}

func (s *MemoryCaseStore) Create(ctx context.Context, c *contracts.WorkflowCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	s.cases[c.CaseID] = *c
	return nil
}

func (s *MemoryCaseStore) Update(ctx context.Context, c *contracts.WorkflowCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.CaseID]; !ok {
		return ErrCaseNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	s.cases[c.CaseID] = *c
	return nil
}
