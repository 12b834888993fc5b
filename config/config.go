// Package config mirrors the teacher's nested-struct-with-defaults
// configuration shape (consensus.Config / config.Config), renamed and
// trimmed to this verifier's tuning knobs.
package config

import "time"

type Config struct {
	Consensus ConsensusConfig
	Cycle     CycleConfig
	Store     StoreConfig
	TxPool    TxPoolConfig
	Node      NodeConfig
}

// ConsensusConfig tunes C11's voting and freezing behaviour. The loop
// reads OpenEdgeSlack and ProductionDelay; BlockDuration,
// FlipConfirmations, FlipMinAge and VoteRetention are not read, since the
// tallier and block-time arithmetic use the fixed constants in types.
type ConsensusConfig struct {
	BlockDuration     time.Duration
	OpenEdgeSlack     time.Duration
	ProductionDelay   time.Duration
	FlipConfirmations int
	FlipMinAge        time.Duration
	VoteRetention     uint64
}

// CycleConfig holds C5's rolling-buffer retention settings. Nothing reads
// it: FrozenChain passes twice its snapshot-ring capacity to cycle.Derive
// as the trim margin, and cycle fixes the number of tracked cycles at 4.
type CycleConfig struct {
	MaxTrackedCycles int
	TrimMargin       int
}

// StoreConfig tunes the C12 Badger-backed BlockStore, grounded on the
// teacher's db.Manager write-queue thresholds.
type StoreConfig struct {
	Dir             string
	ValueLogSize    int64
	WriteQueueSize  int
	BatchMaxBytes   int
	BatchMaxCount   int
	FlushInterval   time.Duration
	RecentBlockCache int
}

// TxPoolConfig tunes block assembly caps (C7): MaxTxPerBlock applies from
// blockchain version 1, MaxTxPerBlockV1 to version 0. MaxPending is not
// read; the loop's pending-transaction set is unbounded.
type TxPoolConfig struct {
	MaxPending       int
	MaxTxPerBlock    int
	MaxTxPerBlockV1  int
}

// NodeConfig tunes C11's loop cadence.
type NodeConfig struct {
	LoopTick     time.Duration
	InboxDepth   int
}

func DefaultConfig() *Config {
	return &Config{
		Consensus: ConsensusConfig{
			BlockDuration:     7000 * time.Millisecond,
			OpenEdgeSlack:     7000 * time.Millisecond,
			ProductionDelay:   1500 * time.Millisecond,
			FlipConfirmations: 2,
			FlipMinAge:        14000 * time.Millisecond,
			VoteRetention:     40,
		},
		Cycle: CycleConfig{
			MaxTrackedCycles: 4,
			TrimMargin:       32,
		},
		Store: StoreConfig{
			Dir:              "./data/chain",
			ValueLogSize:     1 << 28,
			WriteQueueSize:   65000,
			BatchMaxBytes:    8 << 20,
			BatchMaxCount:    1000,
			FlushInterval:    100 * time.Millisecond,
			RecentBlockCache: 256,
		},
		TxPool: TxPoolConfig{
			MaxPending:      50000,
			MaxTxPerBlock:   5000,
			MaxTxPerBlockV1: 1000,
		},
		Node: NodeConfig{
			LoopTick:   300 * time.Millisecond,
			InboxDepth: 4096,
		},
	}
}
