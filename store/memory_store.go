package store

import (
	"sync"

	"nyzoverifier/types"
)

// MemoryStore is a mutex-guarded map-backed BlockStore, grounded on the
// teacher's MemoryBlockStore, for use in tests and the simulated
// verifier harness where a disk-backed store is unnecessary overhead.
type MemoryStore struct {
	mu               sync.RWMutex
	blocks           map[uint64]*types.Block
	snapshots        map[uint64]*types.BalanceSnapshot
	highestHeight    uint64
	haveHighest      bool
	genesisStart     types.Timestamp
	haveGenesisStart bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:    make(map[uint64]*types.Block),
		snapshots: make(map[uint64]*types.BalanceSnapshot),
	}
}

func (s *MemoryStore) PutBlock(block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *block
	s.blocks[block.Height] = &cp
	if !s.haveHighest || block.Height > s.highestHeight {
		s.highestHeight = block.Height
		s.haveHighest = true
	}
	return nil
}

func (s *MemoryStore) GetBlock(height uint64) (*types.Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[height]
	if !ok {
		return nil, false, nil
	}
	cp := *b
	return &cp, true, nil
}

func (s *MemoryStore) PutSnapshot(snapshot *types.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snapshot
	s.snapshots[snapshot.BlockHeight] = &cp
	return nil
}

func (s *MemoryStore) GetSnapshot(height uint64) (*types.BalanceSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.snapshots[height]
	if !ok {
		return nil, false, nil
	}
	cp := *sn
	return &cp, true, nil
}

func (s *MemoryStore) HighestHeight() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestHeight, s.haveHighest, nil
}

func (s *MemoryStore) GenesisStartTimestamp() (types.Timestamp, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genesisStart, s.haveGenesisStart, nil
}

func (s *MemoryStore) SetGenesisStartTimestamp(ts types.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genesisStart = ts
	s.haveGenesisStart = true
	return nil
}

func (s *MemoryStore) Close() error { return nil }
