// Package unfrozen implements C9, UnfrozenStore: the bounded candidate
// set for heights above the frozen edge, grounded on the teacher's
// PendingBlockBuffer (bounded per-key map with retry/eviction shape,
// here re-targeted from retry-until-complete to
// rank-and-evict-by-chain_score) and simulatedBlockStore.go's
// heightIndex map-of-slice pattern.
package unfrozen

import (
	"sync"

	"nyzoverifier/chainerr"
	"nyzoverifier/crypto"
	"nyzoverifier/execution"
	"nyzoverifier/types"
)

const defaultCapacityPerHeight = types.MaxUnfrozenPerHeight

// Frozen is the narrow view UnfrozenStore needs of FrozenChain: just
// enough to validate a candidate's parentage without importing the
// whole chain package (keeps C9's dependency on C8 one-directional and
// easy to fake in tests).
type Frozen interface {
	FrozenEdgeHeight() uint64
	FrozenEdgeBlock() *types.Block
	FrozenEdgeSnapshot() *types.BalanceSnapshot
	FrozenBlockAt(height uint64) *types.Block
	InGenesisCycle() bool
}

// ScoreFunc computes chain_score for a candidate block; supplied by
// ConsensusLoop since scoring needs the cycle
// tracker's continuity verdict (4.7), which UnfrozenStore itself does
// not compute.
type ScoreFunc func(block *types.Block) int64

// LeaderFunc reports whether a given hash is the current vote leader at
// its height, so bounded-retention eviction can spare it (4.5 step 5).
type LeaderFunc func(height uint64, hash types.Hash) bool

type candidate struct {
	block    *types.Block
	snapshot *types.BalanceSnapshot
}

// Store is the bounded height -> hash -> Block map.
type Store struct {
	mu       sync.RWMutex
	byHeight map[uint64]map[types.Hash]candidate
	capacity int

	scheme crypto.SignatureScheme
	exec   *execution.Executor
	frozen Frozen
}

func New(scheme crypto.SignatureScheme, exec *execution.Executor, frozen Frozen) *Store {
	return &Store{
		byHeight: make(map[uint64]map[types.Hash]candidate),
		capacity: defaultCapacityPerHeight,
		scheme:   scheme,
		exec:     exec,
		frozen:   frozen,
	}
}

// Register is 4.5's register(B): steps 1-5 in order. openEdgeHeight is
// the caller's current open_edge_height() — derived from wall-clock time
// against OpenEdgeSlack (5's config), which UnfrozenStore itself has no
// opinion on. genesisStart anchors start_timestamp(height) (3.3); slack
// bounds how far verification_timestamp may run past start_timestamp
// before the block is rejected outright.
func (s *Store) Register(block *types.Block, openEdgeHeight uint64, genesisStart types.Timestamp, slack types.Timestamp, score ScoreFunc, leader LeaderFunc) error {
	frozenHeight := s.frozen.FrozenEdgeHeight()
	if block.Height <= frozenHeight || block.Height > openEdgeHeight {
		return chainerr.New(chainerr.Invalid, chainerr.ReasonTypeForHeight,
			"unfrozen: height %d outside (%d, %d]", block.Height, frozenHeight, openEdgeHeight)
	}

	expectedStart := types.ExpectedStartTimestamp(genesisStart, block.Height)
	if block.StartTimestamp != expectedStart {
		return chainerr.New(chainerr.Invalid, chainerr.ReasonTimestamp,
			"unfrozen: block at height %d start_timestamp %d != expected %d", block.Height, block.StartTimestamp, expectedStart)
	}
	if block.VerificationTimestamp < expectedStart || block.VerificationTimestamp > expectedStart+slack {
		return chainerr.New(chainerr.Invalid, chainerr.ReasonTimestamp,
			"unfrozen: block at height %d verification_timestamp %d outside [%d, %d]", block.Height, block.VerificationTimestamp, expectedStart, expectedStart+slack)
	}

	if !s.scheme.Verify(block.SignerSignature, block.SigningBody(), block.SignerID) {
		return chainerr.New(chainerr.Invalid, chainerr.ReasonSignature,
			"unfrozen: block at height %d fails signature verification", block.Height)
	}

	parentBlock, parentSnapshot, err := s.resolveParent(block)
	if err != nil {
		return err
	}

	snapshot, err := s.exec.Execute(parentSnapshot, parentBlock, block.Transactions, block.SignerID, block.Version)
	if err != nil {
		return chainerr.Wrap(chainerr.Fatal, chainerr.ReasonSupplyInvariantViolated, err)
	}
	if snapshot.Hash() != block.BalanceListHash {
		return chainerr.New(chainerr.Fatal, chainerr.ReasonSnapshotHashMismatch,
			"unfrozen: block at height %d balance_list_hash mismatch", block.Height)
	}

	hash := block.Hash()
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.byHeight[block.Height]
	if !ok {
		bucket = make(map[types.Hash]candidate)
		s.byHeight[block.Height] = bucket
	}
	if _, exists := bucket[hash]; exists {
		return nil // idempotent on duplicate
	}
	bucket[hash] = candidate{block: block, snapshot: snapshot}

	if !s.frozen.InGenesisCycle() && len(bucket) > s.capacity {
		s.evictWorst(block.Height, bucket, score, leader)
	}
	return nil
}

func (s *Store) resolveParent(block *types.Block) (*types.Block, *types.BalanceSnapshot, error) {
	if block.Height == s.frozen.FrozenEdgeHeight()+1 {
		parentBlock := s.frozen.FrozenEdgeBlock()
		if parentBlock.Hash() != block.PreviousBlockHash {
			return nil, nil, chainerr.New(chainerr.Invalid, chainerr.ReasonPreviousHash,
				"unfrozen: block at height %d previous_block_hash does not match frozen edge", block.Height)
		}
		return parentBlock, s.frozen.FrozenEdgeSnapshot(), nil
	}
	parentBlock := s.frozen.FrozenBlockAt(block.Height - 1)
	if parentBlock == nil {
		s.mu.RLock()
		bucket := s.byHeight[block.Height-1]
		s.mu.RUnlock()
		for _, c := range bucket {
			if c.block.Hash() == block.PreviousBlockHash {
				return c.block, c.snapshot, nil
			}
		}
		return nil, nil, chainerr.New(chainerr.Invalid, chainerr.ReasonPreviousHash,
			"unfrozen: no known parent candidate for block at height %d", block.Height)
	}
	s.mu.RLock()
	bucket := s.byHeight[block.Height-1]
	s.mu.RUnlock()
	for _, c := range bucket {
		if c.block.Hash() == block.PreviousBlockHash {
			return c.block, c.snapshot, nil
		}
	}
	return nil, nil, chainerr.New(chainerr.Invalid, chainerr.ReasonPreviousHash,
		"unfrozen: parent hash for block at height %d not found among known candidates", block.Height)
}

// evictWorst drops the highest-score candidate at this height unless it
// is the vote leader (4.5 step 5). Caller holds s.mu.
func (s *Store) evictWorst(height uint64, bucket map[types.Hash]candidate, score ScoreFunc, leader LeaderFunc) {
	var worstHash types.Hash
	var worstScore int64
	found := false
	for h, c := range bucket {
		if leader != nil && leader(height, h) {
			continue
		}
		sc := score(c.block)
		if !found || sc > worstScore {
			worstScore = sc
			worstHash = h
			found = true
		}
	}
	if found {
		delete(bucket, worstHash)
	}
}

// Lookup is 4.5's lookup(height, hash).
func (s *Store) Lookup(height uint64, hash types.Hash) (*types.Block, *types.BalanceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.byHeight[height]
	if !ok {
		return nil, nil, false
	}
	c, ok := bucket[hash]
	if !ok {
		return nil, nil, false
	}
	return c.block, c.snapshot, true
}

// CandidatesAt is 4.5's candidates_at(height).
func (s *Store) CandidatesAt(height uint64) []*types.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.byHeight[height]
	out := make([]*types.Block, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c.block)
	}
	return out
}

// Prune drops all entries at heights <= newFrozenHeight.
func (s *Store) Prune(newFrozenHeight uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.byHeight {
		if h <= newFrozenHeight {
			delete(s.byHeight, h)
		}
	}
}
