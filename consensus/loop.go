// Package consensus implements C11, ConsensusLoop: the single
// cooperative fixed-step loop driving production, voting, freezing, and
// missing-block requests, grounded on the teacher's node.go Start()
// (priority-ordered channel select, context-cancel shutdown) collapsed
// from its concurrent handler-pool shape to the single-threaded loop
// 5 demands, and loop.go's RunLoop() ticker-driven top-level shape.
package consensus

import (
	"context"
	"sort"
	"sync"
	"time"

	"nyzoverifier/admission"
	"nyzoverifier/chain"
	"nyzoverifier/config"
	"nyzoverifier/crypto"
	"nyzoverifier/cycle"
	"nyzoverifier/execution"
	"nyzoverifier/logs"
	"nyzoverifier/types"
	"nyzoverifier/unfrozen"
	"nyzoverifier/vote"
)

// Outbound is the external collaborator the loop delegates broadcast
// and fetch responsibility to (5's "I/O ... runs on separate workers").
type Outbound interface {
	BroadcastBlock(block *types.Block)
	BroadcastVote(height uint64, hash types.Hash)
	RequestBlock(height uint64, hash types.Hash)
}

// Loop is C11. It owns FrozenChain, UnfrozenStore, and VoteTallier;
// BlockStore is reached only through FrozenChain, consistent with 5's
// shared-resource note that BlockStore is serialised through the loop.
type Loop struct {
	cfg    *config.Config
	logger logs.Logger

	frozen   *chain.FrozenChain
	unfrozen *unfrozen.Store
	tallier  *vote.Tallier
	admit    *admission.Admission
	executor *execution.Executor
	scheme   crypto.SignatureScheme
	outbound Outbound

	signer       *crypto.SigningKey // nil: vote/freeze only, never produce
	genesisStart types.Timestamp

	inbox  chan types.Message
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	pendingTxs map[types.Hash]types.Transaction

	now func() time.Time
}

func New(cfg *config.Config, logger logs.Logger, frozen *chain.FrozenChain, unfrozenStore *unfrozen.Store, tallier *vote.Tallier, admit *admission.Admission, executor *execution.Executor, scheme crypto.SignatureScheme, outbound Outbound, signer *crypto.SigningKey, genesisStart types.Timestamp) *Loop {
	return &Loop{
		cfg:          cfg,
		logger:       logger,
		frozen:       frozen,
		unfrozen:     unfrozenStore,
		tallier:      tallier,
		admit:        admit,
		executor:     executor,
		scheme:       scheme,
		outbound:     outbound,
		signer:       signer,
		genesisStart: genesisStart,
		inbox:        make(chan types.Message, cfg.Node.InboxDepth),
		stopCh:       make(chan struct{}),
		pendingTxs:   make(map[types.Hash]types.Transaction),
		now:          time.Now,
	}
}

// Inbox exposes the bounded channel external I/O workers hand validated
// messages to; full sends block the caller (backpressure), never drop.
func (l *Loop) Inbox() chan<- types.Message { return l.inbox }

// Start runs the loop on its own goroutine until Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop sets the single shutdown flag; the loop returns after finishing
// whatever it is doing in the current iteration.
func (l *Loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.Node.LoopTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case msg := <-l.inbox:
			l.handleMessage(msg)
		case <-ticker.C:
			l.iterate()
		}
	}
}

func (l *Loop) handleMessage(msg types.Message) {
	switch msg.Type {
	case types.MessageTransaction:
		tx, err := types.DecodeTransaction(msg.Content)
		if err != nil {
			l.logger.Debug("consensus: drop malformed transaction message: %v", err)
			return
		}
		l.mu.Lock()
		l.pendingTxs[tx.Hash()] = *tx
		l.mu.Unlock()

	case types.MessageNewBlock:
		block, err := types.DecodeBlock(msg.Content)
		if err != nil {
			l.logger.Debug("consensus: drop malformed block message: %v", err)
			return
		}
		if err := l.unfrozen.Register(block, l.openEdgeHeight(), l.genesisStart, l.verificationSlack(), l.chainScore, l.isVoteLeader); err != nil {
			l.logger.Debug("consensus: reject block at height %d: %v", block.Height, err)
		}

	case types.MessageBlockVote:
		content, err := types.DecodeBlockVoteContent(msg.Content)
		if err != nil {
			l.logger.Debug("consensus: drop malformed vote message: %v", err)
			return
		}
		if err := l.tallier.RegisterVote(content.Height, msg.SenderID, content.Hash, msg.Timestamp, l.openEdgeHeight(), l.frozen.FrozenEdgeHeight()); err != nil {
			l.logger.Debug("consensus: reject vote at height %d from %s: %v", content.Height, msg.SenderID, err)
		}
	}
}

// openEdgeHeight derives open_edge_height() from wall-clock time against
// OpenEdgeSlack, since that slack is a time budget, not a height count
// (see the Open Question decision in the ledger).
func (l *Loop) openEdgeHeight() uint64 {
	elapsed := time.Since(l.startTime(l.frozen.FrozenEdgeHeight())) + l.cfg.Consensus.OpenEdgeSlack
	blockDuration := time.Duration(types.BlockDurationMillis) * time.Millisecond
	extra := uint64(0)
	if elapsed > 0 {
		extra = uint64(elapsed / blockDuration)
	}
	return l.frozen.FrozenEdgeHeight() + extra + 1
}

func (l *Loop) startTime(height uint64) time.Time {
	ts := types.ExpectedStartTimestamp(l.genesisStart, height)
	return time.UnixMilli(int64(ts))
}

// verificationSlack is 3.3's bound on how far verification_timestamp may
// run past start_timestamp before registration rejects the block outright.
func (l *Loop) verificationSlack() types.Timestamp {
	return types.Timestamp(l.cfg.Consensus.OpenEdgeSlack / time.Millisecond)
}

// iterate runs one pass of steps 1-4; sleeping between iterations is the
// caller's ticker.
func (l *Loop) iterate() {
	height := l.frozen.FrozenEdgeHeight() + 1

	l.produce(height)
	votedHash, haveVote := l.vote(height)
	l.attemptFreeze(height)
	if haveVote && votedHash != types.ZeroHash {
		if _, _, found := l.unfrozen.Lookup(height, votedHash); !found {
			l.outbound.RequestBlock(height, votedHash)
		}
	}
}

// produce is step 1: assemble, execute, sign, and register a block when
// the local signer is scheduled for this height.
func (l *Loop) produce(height uint64) {
	if l.signer == nil {
		return
	}
	cycleList := l.frozen.CurrentCycle()
	if !l.scheduledFor(cycleList, height) {
		return
	}

	start := types.ExpectedStartTimestamp(l.genesisStart, height)
	now := types.Timestamp(l.now().UnixMilli())
	if now < start+types.Timestamp(l.cfg.Consensus.ProductionDelay/time.Millisecond) {
		return
	}

	parentBlock := l.frozen.FrozenEdgeBlock()
	parentSnapshot := l.frozen.FrozenEdgeSnapshot()

	l.mu.Lock()
	candidates := make([]types.Transaction, 0, len(l.pendingTxs))
	for _, tx := range l.pendingTxs {
		candidates = append(candidates, tx)
	}
	l.mu.Unlock()

	version := parentSnapshot.BlockchainVersion
	maxPerBlock := l.cfg.TxPool.MaxTxPerBlock
	if version < 1 {
		maxPerBlock = l.cfg.TxPool.MaxTxPerBlockV1
	}
	approved := l.admit.Assemble(candidates, height, version, l.genesisStart, l.frozen, parentSnapshot, maxPerBlock)

	snapshot, err := l.executor.Execute(parentSnapshot, parentBlock, approved, l.signer.Identifier(), version)
	if err != nil {
		l.logger.Warn("consensus: execute failed while producing height %d: %v", height, err)
		return
	}

	block := &types.Block{
		Version:               version,
		Height:                height,
		PreviousBlockHash:     parentBlock.Hash(),
		StartTimestamp:        start,
		VerificationTimestamp: now,
		Transactions:          approved,
		BalanceListHash:       snapshot.Hash(),
		SignerID:              l.signer.Identifier(),
	}
	sig, err := l.scheme.Sign(l.signer, block.SigningBody())
	if err != nil {
		l.logger.Warn("consensus: sign block at height %d: %v", height, err)
		return
	}
	block.SignerSignature = sig

	if err := l.unfrozen.Register(block, l.openEdgeHeight(), l.genesisStart, l.verificationSlack(), l.chainScore, l.isVoteLeader); err != nil {
		l.logger.Warn("consensus: register own produced block at height %d: %v", height, err)
		return
	}
	l.outbound.BroadcastBlock(block)
}

func (l *Loop) scheduledFor(cycleList []types.Identifier, height uint64) bool {
	if len(cycleList) == 0 {
		return false
	}
	idx := int(height % uint64(len(cycleList)))
	return cycleList[idx] == l.signer.Identifier()
}

// vote is step 2.
func (l *Loop) vote(height uint64) (types.Hash, bool) {
	cycleList := l.frozen.CurrentCycle()
	m := len(cycleList)
	if m == 0 {
		return types.ZeroHash, false
	}

	if leadHash, count, ok := l.tallier.LeadingHash(height); ok && count*2 >= m {
		if _, _, found := l.unfrozen.Lookup(height, leadHash); found {
			l.castVote(height, leadHash)
			return leadHash, true
		}
	}

	candidates := l.unfrozen.CandidatesAt(height)
	if len(candidates) == 0 {
		return types.ZeroHash, false
	}
	now := l.now()
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := l.chainScore(candidates[i]), l.chainScore(candidates[j])
		if si != sj {
			return si < sj
		}
		return lessHash(candidates[i].Hash(), candidates[j].Hash())
	})
	for _, c := range candidates {
		if !now.Before(l.minimumVoteTimestamp(c)) {
			hash := c.Hash()
			l.castVote(height, hash)
			return hash, true
		}
	}
	return types.ZeroHash, false
}

func (l *Loop) castVote(height uint64, hash types.Hash) {
	if l.signer != nil {
		_ = l.tallier.RegisterVote(height, l.signer.Identifier(), hash, types.Timestamp(l.now().UnixMilli()), l.openEdgeHeight(), l.frozen.FrozenEdgeHeight())
	}
	l.outbound.BroadcastVote(height, hash)
}

// attemptFreeze is step 3. count >= FreezeThreshold(m) is the success
// boundary (8's "with exactly FREEZE_THRESHOLD votes succeeds; with one
// fewer, fails"); FreezeThreshold already folds in the ⌈3m/4⌉+1 margin.
// A vote-qualifying candidate is still refused outright if freezing it
// would make the cycle discontinuous (8's Proof-of-Diversity gate,
// scenario 6: "the loop refuses to freeze it regardless of vote count").
func (l *Loop) attemptFreeze(height uint64) {
	cycleList := l.frozen.CurrentCycle()
	m := len(cycleList)
	hash, count, ok := l.tallier.LeadingHash(height)
	if !ok || m == 0 || count < types.FreezeThreshold(m) {
		return
	}
	block, snapshot, found := l.unfrozen.Lookup(height, hash)
	if !found {
		return
	}
	if candidateTracker := l.frozen.PreviewCycle(block.SignerID); candidateTracker.Continuity == cycle.ContinuityDiscontinuous {
		l.logger.Warn("consensus: refusing to freeze discontinuous candidate at height %d", height)
		return
	}
	if err := l.frozen.FreezeBlock(block, snapshot); err != nil {
		l.logger.Error("consensus: freeze_block failed at height %d: %v", height, err)
		return
	}
	l.unfrozen.Prune(height)
	l.tallier.Prune(height)
	l.mu.Lock()
	for _, tx := range block.Transactions {
		delete(l.pendingTxs, tx.Hash())
	}
	l.mu.Unlock()
}

func (l *Loop) isVoteLeader(height uint64, hash types.Hash) bool {
	leadHash, _, ok := l.tallier.LeadingHash(height)
	return ok && leadHash == hash
}

// chainScore implements 4.7's scoring rule: lower is better. The
// concrete lineage-penalty and continuity-bonus constants are this
// spec's own fixed choice (see the Open Question decisions).
func (l *Loop) chainScore(b *types.Block) int64 {
	start := int64(types.ExpectedStartTimestamp(l.genesisStart, b.Height))
	score := int64(b.VerificationTimestamp) - start

	if parent := l.frozen.FrozenBlockAt(b.Height - 1); parent != nil {
		if parent.Hash() != b.PreviousBlockHash {
			score += 2 * types.BlockDurationMillis
		}
	} else if b.Height > l.frozen.FrozenEdgeHeight()+1 {
		if _, _, found := l.unfrozen.Lookup(b.Height-1, b.PreviousBlockHash); !found {
			score += 2 * types.BlockDurationMillis
		}
	}

	if tracker := l.frozen.Tracker(); tracker.Complete && tracker.Continuity == cycle.ContinuityContinuous {
		score -= types.BlockDurationMillis / 2
	}
	return score
}

// minimumVoteTimestamp delays voting for a candidate by a quarter of its
// chain score in milliseconds, to give better-scoring competitors time to
// surface (4.7). The delay is measured from the start timestamp of the
// candidate's height, not from when the candidate was received (receipt
// time is not tracked), and it has no upper cap; a score <= 0 gives no
// delay.
func (l *Loop) minimumVoteTimestamp(b *types.Block) time.Time {
	base := l.startTime(b.Height)
	score := l.chainScore(b)
	if score <= 0 {
		return base
	}
	delay := time.Duration(score) * time.Millisecond / 4
	return base.Add(delay)
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
