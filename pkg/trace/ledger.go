// Package trace implements the decision trace ledger: a hash-chained,
// append-only log of every decision made during a workflow run.
//
// Each entry's content hash is computed over the RFC 8785 canonical form of
// all fields except content_hash and previous_hash, and previous_hash of
// entry n must equal content_hash of entry n-1. The chain verifies end to end
// independently of the database that stores it; a broken chain is reported,
// never repaired.
package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veridian-Labs/dossier/core/pkg/canonicalize"
	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

var (
	// ErrNoTrace is returned when a case has no trace to resume or export.
	ErrNoTrace = errors.New("trace: no trace exists for case")
	// ErrTraceExists is returned when starting a trace for a case that has one.
	ErrTraceExists = errors.New("trace: trace already exists for case")
	// ErrSequenceConflict is returned when a concurrent append won the
	// sequence slot. Lost updates here would corrupt the chain, so the
	// conflict surfaces instead.
	ErrSequenceConflict = errors.New("trace: sequence conflict on append")
)

// Context carries the chain head for one case's trace between appends.
type Context struct {
	TraceID      string
	CaseID       string
	Sequence     uint64
	PreviousHash string
}

// Event is one decision to append. The ledger assigns sequence, hashes and
// timestamps.
type Event struct {
	EventType  contracts.TraceEventType
	Actor      string
	EntityType string
	EntityID   string
	Decision   string
	InputData  map[string]any
	OutputData map[string]any
	Reasons    []string
}

// SummaryDelta is applied to the per-trace counters transactionally with the
// entry that caused it.
type SummaryDelta struct {
	Accepted int
	Rejected int
	Gaps     int
}

// EntryStore is the persistence contract for trace entries.
type EntryStore interface {
	CreateTrace(ctx context.Context, traceID, caseID string) error
	// TraceForCase returns the trace id for a case, or ErrNoTrace.
	TraceForCase(ctx context.Context, caseID string) (string, error)
	// LatestEntry returns the highest-sequence entry of a trace, or nil for
	// an empty trace.
	LatestEntry(ctx context.Context, traceID string) (*contracts.TraceEntry, error)
	// AppendEntry stores the entry and applies delta to the trace summary in
	// one transaction. Returns ErrSequenceConflict when the sequence number
	// is already taken.
	AppendEntry(ctx context.Context, entry *contracts.TraceEntry, delta SummaryDelta) error
	// ListEntries returns a trace's entries in ascending sequence order.
	ListEntries(ctx context.Context, traceID string) ([]contracts.TraceEntry, error)
	Summary(ctx context.Context, traceID string) (*contracts.TraceSummary, error)
}

// Ledger appends, verifies and exports decision traces.
type Ledger struct {
	store EntryStore
	clock func() time.Time
}

// NewLedger creates a ledger over the given entry store.
func NewLedger(store EntryStore) *Ledger {
	return &Ledger{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// StartTrace begins a new chain for a case: sequence 0, empty previous hash.
func (l *Ledger) StartTrace(ctx context.Context, caseID string) (*Context, error) {
	traceID := uuid.New().String()
	if err := l.store.CreateTrace(ctx, traceID, caseID); err != nil {
		return nil, err
	}
	return &Context{TraceID: traceID, CaseID: caseID}, nil
}

// ResumeTrace reconstructs the chain head from the last persisted entry so a
// resumed run continues the same chain. Returns ErrNoTrace when the case has
// never been traced.
func (l *Ledger) ResumeTrace(ctx context.Context, caseID string) (*Context, error) {
	traceID, err := l.store.TraceForCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	last, err := l.store.LatestEntry(ctx, traceID)
	if err != nil {
		return nil, err
	}
	tc := &Context{TraceID: traceID, CaseID: caseID}
	if last != nil {
		tc.Sequence = last.SequenceNum
		tc.PreviousHash = last.ContentHash
	}
	return tc, nil
}

// StartOrResume resumes an existing trace or starts a fresh one.
func (l *Ledger) StartOrResume(ctx context.Context, caseID string) (*Context, error) {
	tc, err := l.ResumeTrace(ctx, caseID)
	if errors.Is(err, ErrNoTrace) {
		return l.StartTrace(ctx, caseID)
	}
	return tc, err
}

// Append hashes and stores one event, returning the stored entry and the
// advanced context. The caller must thread the returned context into the next
// append; the store's sequence uniqueness check catches concurrent writers.
func (l *Ledger) Append(ctx context.Context, tc *Context, ev Event) (*contracts.TraceEntry, *Context, error) {
	entry := &contracts.TraceEntry{
		TraceID:      tc.TraceID,
		SequenceNum:  tc.Sequence + 1,
		EventType:    ev.EventType,
		Actor:        ev.Actor,
		EntityType:   ev.EntityType,
		EntityID:     ev.EntityID,
		Decision:     ev.Decision,
		InputData:    ev.InputData,
		OutputData:   ev.OutputData,
		Reasons:      ev.Reasons,
		PreviousHash: tc.PreviousHash,
		CreatedAt:    l.clock().UTC(),
	}
	hash, err := EntryContentHash(entry)
	if err != nil {
		return nil, nil, err
	}
	entry.ContentHash = hash

	if err := l.store.AppendEntry(ctx, entry, deltaFor(ev)); err != nil {
		return nil, nil, err
	}
	next := &Context{
		TraceID:      tc.TraceID,
		CaseID:       tc.CaseID,
		Sequence:     entry.SequenceNum,
		PreviousHash: entry.ContentHash,
	}
	return entry, next, nil
}

func deltaFor(ev Event) SummaryDelta {
	var d SummaryDelta
	switch ev.EventType {
	case contracts.TraceSlotAccepted:
		d.Accepted = 1
	case contracts.TraceSlotRejected:
		d.Rejected = 1
	case contracts.TraceSlotProposed:
		if ev.Decision == string(contracts.ProposalTraceGap) {
			d.Gaps = 1
		}
	}
	return d
}

// hashableEntry is the exact field set covered by the content hash. The
// timestamp participates as its stored RFC 3339 string so verification
// recomputes the identical bytes.
type hashableEntry struct {
	TraceID     string                   `json:"trace_id"`
	SequenceNum uint64                   `json:"sequence_num"`
	EventType   contracts.TraceEventType `json:"event_type"`
	Actor       string                   `json:"actor"`
	EntityType  string                   `json:"entity_type"`
	EntityID    string                   `json:"entity_id"`
	Decision    string                   `json:"decision"`
	InputData   map[string]any           `json:"input_data,omitempty"`
	OutputData  map[string]any           `json:"output_data,omitempty"`
	Reasons     []string                 `json:"reasons,omitempty"`
	CreatedAt   string                   `json:"created_at"`
}

// EntryContentHash computes the deterministic content hash of an entry over
// every field except content_hash and previous_hash.
func EntryContentHash(e *contracts.TraceEntry) (string, error) {
	h, err := canonicalize.CanonicalHash(hashableEntry{
		TraceID:     e.TraceID,
		SequenceNum: e.SequenceNum,
		EventType:   e.EventType,
		Actor:       e.Actor,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Decision:    e.Decision,
		InputData:   e.InputData,
		OutputData:  e.OutputData,
		Reasons:     e.Reasons,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("trace: content hash failed: %w", err)
	}
	return h, nil
}

// VerifyChain walks a trace in sequence order, recomputing every content hash
// and checking each previous-hash link. It trusts nothing cached in the rows;
// the first mismatch halts the walk and is reported, never repaired.
func (l *Ledger) VerifyChain(ctx context.Context, traceID string) (*contracts.ChainVerification, error) {
	entries, err := l.store.ListEntries(ctx, traceID)
	if err != nil {
		return nil, err
	}
	return VerifyEntries(entries), nil
}

// VerifyEntries is the storage-agnostic verification routine. Entries must be
// in ascending sequence order.
func VerifyEntries(entries []contracts.TraceEntry) *contracts.ChainVerification {
	previousHash := ""
	for i := range entries {
		e := &entries[i]
		if e.SequenceNum != uint64(i)+1 {
			return &contracts.ChainVerification{
				Valid:           false,
				VerifiedEntries: i,
				BrokenAt:        e.SequenceNum,
				Error:           fmt.Sprintf("sequence gap: expected %d, got %d", i+1, e.SequenceNum),
			}
		}
		if e.PreviousHash != previousHash {
			return &contracts.ChainVerification{
				Valid:           false,
				VerifiedEntries: i,
				BrokenAt:        e.SequenceNum,
				Error:           fmt.Sprintf("previous_hash mismatch at sequence %d", e.SequenceNum),
			}
		}
		computed, err := EntryContentHash(e)
		if err != nil {
			return &contracts.ChainVerification{
				Valid:           false,
				VerifiedEntries: i,
				BrokenAt:        e.SequenceNum,
				Error:           fmt.Sprintf("hash recompute failed at sequence %d: %v", e.SequenceNum, err),
			}
		}
		if computed != e.ContentHash {
			return &contracts.ChainVerification{
				Valid:           false,
				VerifiedEntries: i,
				BrokenAt:        e.SequenceNum,
				Error:           fmt.Sprintf("content_hash mismatch at sequence %d", e.SequenceNum),
			}
		}
		previousHash = e.ContentHash
	}
	return &contracts.ChainVerification{Valid: true, VerifiedEntries: len(entries)}
}

// Summary returns the transactionally-maintained counters for a trace.
func (l *Ledger) Summary(ctx context.Context, traceID string) (*contracts.TraceSummary, error) {
	return l.store.Summary(ctx, traceID)
}
