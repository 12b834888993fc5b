// Package cycle implements C5, the incrementally maintained rolling
// summary of recent signers that enforces Proof-of-Diversity admission
// (4.1). It is a pure derivation: no I/O, no back-references into a block
// chain, following the re-architecture spec.md §9 demands in place of the
// source's "walk back through previous blocks" pattern.
package cycle

import (
	"math"

	"github.com/RoaringBitmap/roaring"

	"nyzoverifier/types"
)

const maxTrackedCycles = 4

type Continuity int

const (
	ContinuityUndetermined Continuity = iota
	ContinuityContinuous
	ContinuityDiscontinuous
)

type VerifierState int

const (
	VerifierUndetermined VerifierState = iota
	VerifierNew
	VerifierExisting
)

// Tracker is the state described in 3.4.
type Tracker struct {
	Identifiers       []types.Identifier
	CycleStartIndices [maxTrackedCycles]int // -1 if that cycle hasn't closed
	CycleLengths      [maxTrackedCycles]uint32
	Continuity        Continuity
	Complete          bool
	NewVerifierStates []VerifierState // parallel to Identifiers
}

// Genesis is the empty tracker a chain starts from.
func Genesis() *Tracker {
	t := &Tracker{}
	for i := range t.CycleStartIndices {
		t.CycleStartIndices[i] = -1
	}
	return t
}

// interner assigns small dense integers to identifiers so the backward
// scan's "seen" set can be a compressed roaring.Bitmap instead of a
// map[Identifier]bool.
type interner struct {
	toIdx map[types.Identifier]uint32
	ids   []types.Identifier
}

func newInterner() *interner { return &interner{toIdx: make(map[types.Identifier]uint32)} }

func (n *interner) idx(id types.Identifier) uint32 {
	if i, ok := n.toIdx[id]; ok {
		return i
	}
	i := uint32(len(n.ids))
	n.toIdx[id] = i
	n.ids = append(n.ids, id)
	return i
}

// Derive computes the next tracker given the parent tracker and the next
// block's signer, per 4.1 steps 1-7. trimMargin bounds how much extra
// history beyond the 4 cycles is retained.
func Derive(parent *Tracker, signerID types.Identifier, trimMargin int) *Tracker {
	ids := make([]types.Identifier, len(parent.Identifiers)+1)
	copy(ids, parent.Identifiers)
	ids[len(ids)-1] = signerID

	starts, genesisReached := deriveCycleStarts(ids)
	complete := len(starts) >= maxTrackedCycles || genesisReached

	var lengths [maxTrackedCycles]uint32
	var startIdx [maxTrackedCycles]int
	for i := range startIdx {
		startIdx[i] = -1
	}
	prevBoundary := len(ids)
	for i, s := range starts {
		if i >= maxTrackedCycles {
			break
		}
		startIdx[i] = s
		lengths[i] = uint32(prevBoundary - s)
		prevBoundary = s
	}

	newState := deriveNewVerifierState(ids, signerID, complete, startIdx)
	states := append(append([]VerifierState{}, parent.NewVerifierStates...), newState)

	next := &Tracker{
		Identifiers:       ids,
		CycleStartIndices: startIdx,
		CycleLengths:      lengths,
		Complete:          complete,
		NewVerifierStates: states,
	}
	if complete {
		next.Continuity = evaluateContinuity(startIdx, lengths, states)
	} else {
		next.Continuity = ContinuityUndetermined
	}

	trim(next, trimMargin)
	return next
}

// deriveCycleStarts walks ids backwards closing cycles per 4.1 step 2,
// using a roaring bitmap for the running "seen in this cycle" set.
func deriveCycleStarts(ids []types.Identifier) (starts []int, genesisReached bool) {
	tab := newInterner()
	seen := roaring.New()
	pos := len(ids) - 1
	for len(starts) < maxTrackedCycles {
		if pos < 0 {
			genesisReached = true
			break
		}
		idx := tab.idx(ids[pos])
		if seen.Contains(idx) {
			starts = append(starts, pos+1)
			seen = roaring.New()
			seen.Add(idx)
			pos--
			continue
		}
		seen.Add(idx)
		pos--
	}
	return starts, genesisReached
}

// deriveNewVerifierState resolves the state of the just-appended signer
// only (4.1 step 6); older entries keep whatever state they were assigned
// when they were appended, matching the append-only design note in §9.
func deriveNewVerifierState(ids []types.Identifier, signerID types.Identifier, complete bool, startIdx [maxTrackedCycles]int) VerifierState {
	if !complete {
		return VerifierUndetermined
	}
	for _, id := range ids[:len(ids)-1] {
		if id == signerID {
			return VerifierExisting
		}
	}
	return VerifierNew
}

func evaluateContinuity(startIdx [maxTrackedCycles]int, lengths [maxTrackedCycles]uint32, states []VerifierState) Continuity {
	if !ruleA(lengths, states) || !ruleB(lengths) {
		return ContinuityDiscontinuous
	}
	return ContinuityContinuous
}

// ruleA: new-verifier spacing. If the last added id is a new verifier, none
// of the last cycle_lengths[0]-1 prior ids may themselves be new verifiers.
func ruleA(lengths [maxTrackedCycles]uint32, states []VerifierState) bool {
	n := len(states)
	if n == 0 {
		return true
	}
	if states[n-1] != VerifierNew {
		return true
	}
	span := int(lengths[0]) - 1
	if span <= 0 {
		return true
	}
	start := n - 1 - span
	if start < 0 {
		start = 0
	}
	for i := start; i < n-1; i++ {
		if states[i] == VerifierNew {
			return false
		}
	}
	return true
}

// ruleB: cycle shrinkage bound, cycle_lengths[0] >= ceil(max(1..4)*0.5)+1.
func ruleB(lengths [maxTrackedCycles]uint32) bool {
	var maxOther uint32
	for i := 1; i < maxTrackedCycles; i++ {
		if lengths[i] > maxOther {
			maxOther = lengths[i]
		}
	}
	if maxOther == 0 {
		return true
	}
	bound := uint32(math.Ceil(float64(maxOther)*0.5)) + 1
	return lengths[0] >= bound
}

// trim bounds memory per 4.1 step 5: retain enough identifiers to
// reconstruct all closed cycles plus trimMargin extra leading slots.
func trim(t *Tracker, trimMargin int) {
	keepFrom := 0
	lastClosed := -1
	for i := maxTrackedCycles - 1; i >= 0; i-- {
		if t.CycleStartIndices[i] >= 0 {
			lastClosed = t.CycleStartIndices[i]
			break
		}
	}
	if lastClosed > 0 {
		keepFrom = lastClosed - trimMargin
		if keepFrom < 0 {
			keepFrom = 0
		}
	}
	if keepFrom == 0 {
		return
	}
	t.Identifiers = append([]types.Identifier{}, t.Identifiers[keepFrom:]...)
	t.NewVerifierStates = append([]VerifierState{}, t.NewVerifierStates[keepFrom:]...)
	for i := range t.CycleStartIndices {
		if t.CycleStartIndices[i] >= 0 {
			t.CycleStartIndices[i] -= keepFrom
		}
	}
}

// CurrentCycle returns the identifiers forming the most recent (still
// open) cycle, in chain order, for FrozenChain to build its committee set.
func (t *Tracker) CurrentCycle() []types.Identifier {
	start := 0
	if t.CycleStartIndices[0] >= 0 {
		start = t.CycleStartIndices[0]
	}
	if start > len(t.Identifiers) {
		start = len(t.Identifiers)
	}
	out := make([]types.Identifier, len(t.Identifiers)-start)
	copy(out, t.Identifiers[start:])
	return out
}

// NewVerifierStatesSlice is a read-only accessor for an external new-verifier
// elector (9's "new-verifier lottery" is out of scope; this is the signal
// such a component would consume).
func (t *Tracker) NewVerifierStatesSlice() []VerifierState {
	return t.NewVerifierStates
}
