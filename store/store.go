// Package store implements C12, the abstract BlockStore contract (6.3)
// durable persistence of frozen blocks and snapshots, plus the two
// concrete implementations FrozenChain is built against: a
// Badger-backed store grounded on the teacher's db.Manager async
// write-queue, and an in-memory store for tests grounded on the
// teacher's consensus.simulatedBlockStore.
package store

import "nyzoverifier/types"

// BlockStore is the abstract persistence contract frozen chain state is
// built on. put_block/put_snapshot are durable and atomic w.r.t. crash;
// get_block/get_snapshot return ok=false on miss rather than an error,
// since a miss is an ordinary, expected outcome (not exceptional).
type BlockStore interface {
	PutBlock(block *types.Block) error
	GetBlock(height uint64) (*types.Block, bool, error)
	PutSnapshot(snapshot *types.BalanceSnapshot) error
	GetSnapshot(height uint64) (*types.BalanceSnapshot, bool, error)
	HighestHeight() (uint64, bool, error)
	GenesisStartTimestamp() (types.Timestamp, bool, error)
	SetGenesisStartTimestamp(ts types.Timestamp) error
	Close() error
}
