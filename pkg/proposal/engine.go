// Package proposal implements the slot proposal engine: the deterministic
// mapping from a case's evidence universe onto a template's slots.
//
// The engine is pure: identical evidence and slot inputs always produce
// identical statuses, atom selections and method statements. Proposal ids and
// timestamps are the only fields free to vary between runs.
package proposal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// Transformation tags describing how slot content was derived.
const (
	TransformAdministrative       = "administrative"
	TransformDirectCitation       = "direct_citation"
	TransformNegativeConfirmation = "negative_confirmation"
)

// Engine produces one SlotProposal per slot per run.
type Engine struct {
	clock func() time.Time
}

// NewEngine creates a slot proposal engine.
func NewEngine() *Engine {
	return &Engine{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Propose computes a proposal for every slot, independently, against the
// case's evidence universe. The universe must be in the store's stable list
// order; selection never re-ranks it.
func (e *Engine) Propose(universe []contracts.EvidenceAtom, slots []contracts.Slot) []contracts.SlotProposal {
	proposals := make([]contracts.SlotProposal, 0, len(slots))
	for _, slot := range slots {
		proposals = append(proposals, e.proposeSlot(universe, slot))
	}
	return proposals
}

func (e *Engine) proposeSlot(universe []contracts.EvidenceAtom, slot contracts.Slot) contracts.SlotProposal {
	p := contracts.SlotProposal{
		ProposalID:           uuid.New().String(),
		SlotID:               slot.SlotID,
		EvidenceAtomIDs:      []string{},
		ClaimedObligationIDs: append([]string{}, slot.ClaimedObligationIDs...),
		CreatedAt:            e.clock().UTC(),
	}

	// Administrative slots (table of contents, headers) need no evidence and
	// are always valid.
	if len(slot.RequiredEvidenceTypes) == 0 {
		p.Status = contracts.ProposalNoEvidenceRequired
		p.Transformations = []string{TransformAdministrative}
		p.MethodStatement = fmt.Sprintf(
			"Slot %s (%q) requires no evidence; content is administrative. Claimed obligations: %s.",
			slot.SlotID, slot.Title, joinOrNone(slot.ClaimedObligationIDs))
		return p
	}

	matches := filterByType(universe, slot.RequiredEvidenceTypes)
	if len(matches) == 0 {
		// A trace gap is a first-class recorded state, not a swallowed error.
		p.Status = contracts.ProposalTraceGap
		p.MethodStatement = fmt.Sprintf(
			"Slot %s (%q) requires evidence of types [%s] but no matching atoms exist in the case evidence universe. Recorded as trace gap. Claimed obligations: %s.",
			slot.SlotID, slot.Title, joinTypes(slot.RequiredEvidenceTypes), joinOrNone(slot.ClaimedObligationIDs))
		return p
	}

	negatives, positives := splitNegatives(matches)

	if len(positives) == 0 {
		// Only negative evidence: "zero events confirmed" is a valid terminal
		// state. Cite every negative atom.
		p.Status = contracts.ProposalReady
		p.EvidenceAtomIDs = atomIDs(negatives)
		p.Transformations = []string{TransformNegativeConfirmation}
		p.MethodStatement = fmt.Sprintf(
			"Slot %s (%q): zero events confirmed for the reporting period. Cited negative evidence atoms [%s] covering required types [%s]. Claimed obligations: %s.",
			slot.SlotID, slot.Title, strings.Join(p.EvidenceAtomIDs, ", "),
			joinTypes(slot.RequiredEvidenceTypes), joinOrNone(slot.ClaimedObligationIDs))
		return p
	}

	limit := slot.MinAtoms
	if limit < 1 {
		limit = 1
	}
	if limit > len(positives) {
		limit = len(positives)
	}
	selected := positives[:limit]

	p.Status = contracts.ProposalReady
	p.EvidenceAtomIDs = atomIDs(selected)
	p.Transformations = []string{TransformDirectCitation}
	p.MethodStatement = fmt.Sprintf(
		"Slot %s (%q): selected %d of %d matching atoms [%s] for required types [%s], in evidence list order. Claimed obligations: %s.",
		slot.SlotID, slot.Title, len(selected), len(matches),
		strings.Join(p.EvidenceAtomIDs, ", "),
		joinTypes(slot.RequiredEvidenceTypes), joinOrNone(slot.ClaimedObligationIDs))
	return p
}

func filterByType(universe []contracts.EvidenceAtom, types []contracts.EvidenceType) []contracts.EvidenceAtom {
	wanted := make(map[contracts.EvidenceType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var out []contracts.EvidenceAtom
	for _, atom := range universe {
		if wanted[atom.EvidenceType] {
			out = append(out, atom)
		}
	}
	return out
}

func splitNegatives(atoms []contracts.EvidenceAtom) (negatives, positives []contracts.EvidenceAtom) {
	for i := range atoms {
		if atoms[i].IsNegative() {
			negatives = append(negatives, atoms[i])
		} else {
			positives = append(positives, atoms[i])
		}
	}
	return negatives, positives
}

func atomIDs(atoms []contracts.EvidenceAtom) []string {
	ids := make([]string, len(atoms))
	for i := range atoms {
		ids[i] = atoms[i].AtomID
	}
	return ids
}

func joinTypes(types []contracts.EvidenceType) string {
	strs := make([]string, len(types))
	for i, t := range types {
		strs[i] = string(t)
	}
	sort.Strings(strs)
	return strings.Join(strs, ", ")
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
