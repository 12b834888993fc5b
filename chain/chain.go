// Package chain implements C8, FrozenChain: the authoritative tail of
// the blockchain, a small ring of recent snapshots, and the derived
// current-cycle membership set, grounded on the teacher's
// simulatedBlockStore.go finalize-height tracking and
// consensusEngine.go's finalizeBlock ordering.
package chain

import (
	"fmt"
	"sync"

	"nyzoverifier/chainerr"
	"nyzoverifier/cycle"
	"nyzoverifier/execution"
	"nyzoverifier/store"
	"nyzoverifier/types"
)

const minSnapshotRing = 4

// FrozenChain is the logical owner of the frozen edge; ConsensusLoop is
// its only writer, but reads may come from other goroutines (a status
// endpoint) under mu.
type FrozenChain struct {
	mu sync.RWMutex

	edgeHeight   uint64
	edgeBlock    *types.Block
	edgeSnapshot *types.BalanceSnapshot

	snapshotRing []*types.BalanceSnapshot // most recent first
	ringCap      int

	tracker    *cycle.Tracker
	cycleSet   map[types.Identifier]bool

	recentBlocks map[uint64]*types.Block

	blocks store.BlockStore
}

// NewGenesis bootstraps a FrozenChain whose frozen edge is the Genesis
// block (height 0), per the Genesis-cycle bootstrap mode (see the
// supplemented-features rationale): cycle tracking starts empty and
// Rule A/B continuity checks are not yet meaningful until the cycle
// completes its first lap.
func NewGenesis(blocks store.BlockStore, genesis *types.Block, genesisSnapshot *types.BalanceSnapshot, ringCap int) (*FrozenChain, error) {
	if genesis.Height != 0 {
		return nil, fmt.Errorf("chain: genesis block must be height 0, got %d", genesis.Height)
	}
	if ringCap < minSnapshotRing {
		ringCap = minSnapshotRing
	}

	fc := &FrozenChain{
		edgeHeight:   0,
		edgeBlock:    genesis,
		edgeSnapshot: genesisSnapshot,
		snapshotRing: []*types.BalanceSnapshot{genesisSnapshot},
		ringCap:      ringCap,
		tracker:      cycle.Genesis(),
		cycleSet:     make(map[types.Identifier]bool),
		recentBlocks: map[uint64]*types.Block{0: genesis},
		blocks:       blocks,
	}
	fc.tracker = cycle.Derive(fc.tracker, genesis.SignerID, 2*ringCap)
	fc.recomputeCycleSet()

	if err := blocks.PutBlock(genesis); err != nil {
		return nil, fmt.Errorf("chain: persist genesis block: %w", err)
	}
	if err := blocks.PutSnapshot(genesisSnapshot); err != nil {
		return nil, fmt.Errorf("chain: persist genesis snapshot: %w", err)
	}
	return fc, nil
}

// Restore reconstructs a FrozenChain from a durable BlockStore at
// startup, starting from the persisted genesis block and replaying every
// persisted block forward up to the highest persisted height. Used by
// cmd/verifier when resuming a prior run.
func Restore(blocks store.BlockStore, ringCap int) (*FrozenChain, error) {
	height, ok, err := blocks.HighestHeight()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("chain: store has no persisted blocks to restore from")
	}

	genesis, ok, err := blocks.GetBlock(0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("chain: store missing genesis block")
	}
	genesisSnapshot, ok, err := blocks.GetSnapshot(0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("chain: store missing genesis snapshot")
	}

	fc, err := NewGenesis(blocks, genesis, genesisSnapshot, ringCap)
	if err != nil {
		return nil, err
	}

	for h := uint64(1); h <= height; h++ {
		block, ok, err := blocks.GetBlock(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("chain: store missing block at height %d during restore", h)
		}
		snapshot, ok, err := blocks.GetSnapshot(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("chain: store missing snapshot at height %d during restore", h)
		}
		if err := fc.FreezeBlock(block, snapshot); err != nil {
			return nil, fmt.Errorf("chain: replay height %d: %w", h, err)
		}
	}
	return fc, nil
}

// FreezeBlock is 4.4's freeze_block, minus preconditions the caller
// (ConsensusLoop) has already checked, EXCEPT two that are enforced here
// as the last word regardless of what the caller already checked: the
// previous_block_hash binding (4.4's "B.previous_block_hash =
// frozen_edge_block.hash") and the Proof-of-Diversity gate (8's
// "CycleTracker(B_h).continuity = Discontinuous => B_h is not frozen").
// The candidate's own resulting tracker is derived before either check
// mutates any state, so a rejection on either ground leaves the chain
// untouched. Only once both gates pass does order match the spec
// exactly: advance the edge, recompute the cycle, ring the snapshot,
// persist, then memoise.
func (c *FrozenChain) FreezeBlock(block *types.Block, snapshot *types.BalanceSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if block.PreviousBlockHash != c.edgeBlock.Hash() {
		return chainerr.New(chainerr.Conflict, chainerr.ReasonPreviousHash,
			"chain: block at height %d previous_block_hash does not match frozen edge, refusing to freeze", block.Height)
	}

	candidateTracker := cycle.Derive(c.tracker, block.SignerID, 2*c.ringCap)
	if candidateTracker.Continuity == cycle.ContinuityDiscontinuous {
		return chainerr.New(chainerr.Conflict, chainerr.ReasonDiscontinuousCycle,
			"chain: block at height %d would make the cycle discontinuous, refusing to freeze", block.Height)
	}

	c.edgeHeight = block.Height
	c.edgeBlock = block
	c.edgeSnapshot = snapshot

	c.tracker = candidateTracker
	c.recomputeCycleSet()

	c.snapshotRing = append([]*types.BalanceSnapshot{snapshot}, c.snapshotRing...)
	if len(c.snapshotRing) > c.ringCap {
		c.snapshotRing = c.snapshotRing[:c.ringCap]
	}

	if err := c.blocks.PutBlock(block); err != nil {
		return fmt.Errorf("chain: put_block: %w", err)
	}
	if err := c.blocks.PutSnapshot(snapshot); err != nil {
		return fmt.Errorf("chain: put_snapshot: %w", err)
	}

	if c.recentBlocks == nil {
		c.recentBlocks = make(map[uint64]*types.Block)
	}
	c.recentBlocks[block.Height] = block
	for h := range c.recentBlocks {
		if h+uint64(c.ringCap) < block.Height {
			delete(c.recentBlocks, h)
		}
	}
	return nil
}

func (c *FrozenChain) recomputeCycleSet() {
	set := make(map[types.Identifier]bool, len(c.tracker.Identifiers))
	for _, id := range c.tracker.CurrentCycle() {
		set[id] = true
	}
	c.cycleSet = set
}

// FrozenEdgeHeight, FrozenEdgeBlock, FrozenEdgeSnapshot are read-only
// snapshots of the frozen edge.
func (c *FrozenChain) FrozenEdgeHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.edgeHeight
}

func (c *FrozenChain) FrozenEdgeBlock() *types.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.edgeBlock
}

func (c *FrozenChain) FrozenEdgeSnapshot() *types.BalanceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.edgeSnapshot
}

func (c *FrozenChain) CurrentCycle() []types.Identifier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.CurrentCycle()
}

func (c *FrozenChain) Tracker() *cycle.Tracker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker
}

// PreviewCycle derives, without mutating any state, the tracker that
// freezing a block signed by signerID would produce. ConsensusLoop uses
// this to decide whether a leading candidate is even eligible to freeze
// (8's Proof-of-Diversity gate) before it spends a FreezeBlock call on
// one that would be refused.
func (c *FrozenChain) PreviewCycle(signerID types.Identifier) *cycle.Tracker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cycle.Derive(c.tracker, signerID, 2*c.ringCap)
}

// InGenesisCycle reports whether the cycle tracker has not yet closed
// its first cycle, the bootstrap window in which MAX_UNFROZEN_PER_HEIGHT
// and current-cycle membership gating are both waived.
func (c *FrozenChain) InGenesisCycle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.CycleStartIndices[0] < 0
}

// CycleContains is a constant-time membership test against the current
// cycle set (4.4).
func (c *FrozenChain) CycleContains(id types.Identifier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycleSet[id]
}

// HashAt implements admission.ChainLookup by delegating to FrozenBlockAt.
func (c *FrozenChain) HashAt(height uint64) (types.Hash, bool) {
	b := c.FrozenBlockAt(height)
	if b == nil {
		return types.ZeroHash, false
	}
	return b.Hash(), true
}

// FrozenBlockAt is 4.4's frozen_block_at: memory cache first, then the
// durable store; a miss at either layer returns nil, not an error.
func (c *FrozenChain) FrozenBlockAt(height uint64) *types.Block {
	c.mu.RLock()
	if b, ok := c.recentBlocks[height]; ok {
		c.mu.RUnlock()
		return b
	}
	store := c.blocks
	c.mu.RUnlock()

	block, ok, err := store.GetBlock(height)
	if err != nil || !ok {
		return nil
	}
	return block
}

// SnapshotForBlock is 4.4's snapshot_for_block: return the ring entry
// directly if present, otherwise locate the nearest earlier snapshot and
// re-execute forward using cached/persisted blocks.
func (c *FrozenChain) SnapshotForBlock(block *types.Block, exec *execution.Executor) (*types.BalanceSnapshot, error) {
	c.mu.RLock()
	for _, s := range c.snapshotRing {
		if s.BlockHeight == block.Height {
			c.mu.RUnlock()
			return s, nil
		}
	}
	var base *types.BalanceSnapshot
	for _, s := range c.snapshotRing {
		if s.BlockHeight < block.Height && (base == nil || s.BlockHeight > base.BlockHeight) {
			base = s
		}
	}
	c.mu.RUnlock()

	if base == nil {
		snap, ok, err := c.blocks.GetSnapshot(0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("chain: no base snapshot available to replay from")
		}
		base = snap
	}

	current := base
	for h := base.BlockHeight + 1; h <= block.Height; h++ {
		parentBlock := c.FrozenBlockAt(h - 1)
		if parentBlock == nil {
			return nil, fmt.Errorf("chain: missing block at height %d needed to replay forward", h-1)
		}
		thisBlock := c.FrozenBlockAt(h)
		if thisBlock == nil {
			return nil, fmt.Errorf("chain: missing block at height %d needed to replay forward", h)
		}
		next, err := exec.Execute(current, parentBlock, thisBlock.Transactions, thisBlock.SignerID, thisBlock.Version)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}
