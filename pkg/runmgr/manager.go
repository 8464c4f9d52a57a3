// Package runmgr guards workflow re-entrancy: at most one run per case at a
// time. A second start for the same case reports the active run instead of
// executing twice. The manager also caches the latest run snapshot so late
// subscribers can catch up.
package runmgr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

var (
	// ErrAlreadyRunning is returned when a case already has an active run.
	ErrAlreadyRunning = errors.New("runmgr: case already has an active run")
	// ErrNotClaimed is returned when releasing a case with no active claim.
	ErrNotClaimed = errors.New("runmgr: case has no active run")
	// ErrNoSnapshot is returned when no snapshot has been published for a case.
	ErrNoSnapshot = errors.New("runmgr: no snapshot for case")
)

// Manager serializes runs per case.
type Manager interface {
	// Claim registers runID as the active run for caseID. Returns
	// ErrAlreadyRunning (with the holder's run id) if another run is active.
	Claim(ctx context.Context, caseID, runID string) error
	// Release drops the claim. Only the claiming run may release.
	Release(ctx context.Context, caseID, runID string) error
	// ActiveRun returns the run id currently holding the case, if any.
	ActiveRun(ctx context.Context, caseID string) (string, bool, error)
	// Publish stores the latest snapshot for a case.
	Publish(ctx context.Context, snap contracts.RunSnapshot) error
	// Snapshot returns the latest published snapshot for a case.
	Snapshot(ctx context.Context, caseID string) (contracts.RunSnapshot, error)
}

// MemoryManager is the in-process default.
type MemoryManager struct {
	mu        sync.Mutex
	active    map[string]string
	snapshots map[string]contracts.RunSnapshot
}

// NewMemoryManager builds an empty manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		active:    make(map[string]string),
		snapshots: make(map[string]contracts.RunSnapshot),
	}
}

func (m *MemoryManager) Claim(ctx context.Context, caseID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.active[caseID]; ok && holder != runID {
		return ErrAlreadyRunning
	}
	m.active[caseID] = runID
	return nil
}

func (m *MemoryManager) Release(ctx context.Context, caseID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	holder, ok := m.active[caseID]
	if !ok || holder != runID {
		return ErrNotClaimed
	}
	delete(m.active, caseID)
	return nil
}

func (m *MemoryManager) ActiveRun(ctx context.Context, caseID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holder, ok := m.active[caseID]
	return holder, ok, nil
}

func (m *MemoryManager) Publish(ctx context.Context, snap contracts.RunSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	m.snapshots[snap.CaseID] = snap
	return nil
}

func (m *MemoryManager) Snapshot(ctx context.Context, caseID string) (contracts.RunSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[caseID]
	if !ok {
		return contracts.RunSnapshot{}, ErrNoSnapshot
	}
	return snap, nil
}
