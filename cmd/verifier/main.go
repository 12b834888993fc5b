// Command verifier wires a single node together: config, a durable
// store, the frozen chain, the unfrozen candidate set, the vote
// tallier, and the consensus loop. Grounded on the teacher's root
// main.go (flag-parse -> config -> dispatch shape), collapsed to the
// single run mode this verifier supports.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nyzoverifier/admission"
	"nyzoverifier/chain"
	"nyzoverifier/config"
	"nyzoverifier/consensus"
	"nyzoverifier/crypto"
	"nyzoverifier/execution"
	"nyzoverifier/logs"
	"nyzoverifier/store"
	"nyzoverifier/types"
	"nyzoverifier/unfrozen"
	"nyzoverifier/vote"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data/chain", "badger data directory")
		keyHex     = flag.String("key", "", "hex-encoded 32-byte signing key; empty runs in vote-only mode")
		verifyOnly = flag.Bool("verify-only", false, "never produce blocks, only vote and freeze")
	)
	flag.Parse()

	logger := logs.New("[verifier]", logs.LevelInfo)
	cfg := config.DefaultConfig()
	cfg.Store.Dir = *dataDir

	blocks, err := store.OpenBadgerStore(store.BadgerStoreConfig{
		Dir:              cfg.Store.Dir,
		ValueLogSize:     cfg.Store.ValueLogSize,
		WriteQueueSize:   cfg.Store.WriteQueueSize,
		BatchMaxBytes:    int64(cfg.Store.BatchMaxBytes),
		BatchMaxCount:    cfg.Store.BatchMaxCount,
		FlushInterval:    cfg.Store.FlushInterval,
		RecentBlockCache: cfg.Store.RecentBlockCache,
	})
	if err != nil {
		logger.Error("open store: %v", err)
		os.Exit(1)
	}
	defer blocks.Close()

	scheme := crypto.SchnorrScheme{}

	var signer *crypto.SigningKey
	if *keyHex != "" && !*verifyOnly {
		signer, err = crypto.SigningKeyFromBytes(decodeHex(*keyHex))
		if err != nil {
			logger.Error("load signing key: %v", err)
			os.Exit(1)
		}
	}

	frozen, genesisStart, err := bootstrapChain(blocks, scheme, signer)
	if err != nil {
		logger.Error("bootstrap chain: %v", err)
		os.Exit(1)
	}

	exec := execution.New()
	unfrozenStore := unfrozen.New(scheme, exec, frozen)
	tallier := vote.New(frozen)
	admit := admission.New(scheme)
	// The genesis signer is the only account seeded with supply at
	// bootstrap, so it's the only one entitled to send Seed transactions
	// (4.3 step 6); cycle-source eligibility is looked up live against
	// frozen.CycleContains instead, since cycle membership rotates.
	if genesisBlock := frozen.FrozenBlockAt(0); genesisBlock != nil {
		admit.Rules.SeedAccounts = map[types.Identifier]bool{genesisBlock.SignerID: true}
	}

	out := &loggingOutbound{logger: logger}
	loop := consensus.New(cfg, logger, frozen, unfrozenStore, tallier, admit, exec, scheme, out, signer, genesisStart)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	loop.Start(ctx)
	logger.Info("verifier started, data dir %s", cfg.Store.Dir)

	<-sigCh
	logger.Info("shutdown signal received")
	cancel()
	loop.Stop()
}

// bootstrapChain restores the chain from the store if it already holds a
// genesis block, otherwise mints one awarding the entire supply to the
// local signer (or a fixed placeholder identifier in vote-only mode, so
// a node can still observe consensus without ever producing).
func bootstrapChain(blocks store.BlockStore, scheme crypto.SignatureScheme, signer *crypto.SigningKey) (*chain.FrozenChain, types.Timestamp, error) {
	if _, ok, err := blocks.HighestHeight(); err != nil {
		return nil, 0, err
	} else if ok {
		fc, err := chain.Restore(blocks, 4)
		if err != nil {
			return nil, 0, err
		}
		ts, ok, err := blocks.GenesisStartTimestamp()
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			ts = types.Timestamp(time.Now().UnixMilli())
		}
		return fc, ts, nil
	}

	genesisID := types.Identifier{}
	if signer != nil {
		genesisID = signer.Identifier()
	}
	genesisBlock := &types.Block{Height: 0, SignerID: genesisID}
	if signer != nil {
		sig, err := scheme.Sign(signer, genesisBlock.SigningBody())
		if err != nil {
			return nil, 0, err
		}
		genesisBlock.SignerSignature = sig
	}
	genesisSnapshot := &types.BalanceSnapshot{
		BlockHeight: 0,
		Items:       []types.BalanceItem{{Identifier: genesisID, Balance: types.TotalSupply}},
	}
	fc, err := chain.NewGenesis(blocks, genesisBlock, genesisSnapshot, 4)
	if err != nil {
		return nil, 0, err
	}
	genesisStart := types.Timestamp(time.Now().UnixMilli())
	if err := blocks.SetGenesisStartTimestamp(genesisStart); err != nil {
		return nil, 0, err
	}
	return fc, genesisStart, nil
}

func decodeHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		b[i] = hexNibble(s[2*i])<<4 | hexNibble(s[2*i+1])
	}
	return b
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// loggingOutbound is the default Outbound until a real transport is
// wired up; it logs rather than drops so a single node can be run and
// observed without a peer mesh (5's "I/O ... runs on separate workers").
type loggingOutbound struct {
	logger logs.Logger
}

func (o *loggingOutbound) BroadcastBlock(block *types.Block) {
	o.logger.Debug("broadcast block height=%d hash=%s", block.Height, block.Hash())
}

func (o *loggingOutbound) BroadcastVote(height uint64, hash types.Hash) {
	o.logger.Debug("broadcast vote height=%d hash=%s", height, hash)
}

func (o *loggingOutbound) RequestBlock(height uint64, hash types.Hash) {
	o.logger.Debug("request block height=%d hash=%s", height, hash)
}
