package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nyzoverifier/admission"
	"nyzoverifier/chain"
	"nyzoverifier/config"
	"nyzoverifier/crypto"
	"nyzoverifier/execution"
	"nyzoverifier/logs"
	"nyzoverifier/store"
	"nyzoverifier/types"
	"nyzoverifier/unfrozen"
	"nyzoverifier/vote"
)

type recordingOutbound struct {
	blocks []*types.Block
	votes  []types.Hash
}

func (r *recordingOutbound) BroadcastBlock(block *types.Block) { r.blocks = append(r.blocks, block) }
func (r *recordingOutbound) BroadcastVote(height uint64, hash types.Hash) {
	r.votes = append(r.votes, hash)
}
func (r *recordingOutbound) RequestBlock(height uint64, hash types.Hash) {}

func identifier(b byte) types.Identifier {
	var id types.Identifier
	id[0] = b
	return id
}

func newTestLoop(t *testing.T, signer *crypto.SigningKey) (*Loop, *chain.FrozenChain, *recordingOutbound) {
	scheme := crypto.SchnorrScheme{}
	mem := store.NewMemoryStore()

	genesisBlock := &types.Block{Height: 0, SignerID: signer.Identifier()}
	genesisSnapshot := &types.BalanceSnapshot{
		BlockHeight: 0,
		Items:       []types.BalanceItem{{Identifier: signer.Identifier(), Balance: types.TotalSupply}},
	}
	sig, err := scheme.Sign(signer, genesisBlock.SigningBody())
	require.NoError(t, err)
	genesisBlock.SignerSignature = sig

	frozen, err := chain.NewGenesis(mem, genesisBlock, genesisSnapshot, 4)
	require.NoError(t, err)

	exec := execution.New()
	unfrozenStore := unfrozen.New(scheme, exec, frozen)
	tallier := vote.New(frozen)
	admit := admission.New(scheme)

	cfg := config.DefaultConfig()
	cfg.Node.LoopTick = time.Hour // iterate() is called manually in tests

	out := &recordingOutbound{}
	loop := New(cfg, logs.NopLogger{}, frozen, unfrozenStore, tallier, admit, exec, scheme, out, signer, 0)
	return loop, frozen, out
}

func TestScheduledForSelectsSoleCycleMember(t *testing.T) {
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	loop, _, _ := newTestLoop(t, key)

	require.True(t, loop.scheduledFor([]types.Identifier{key.Identifier()}, 1))
	other, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	require.False(t, loop.scheduledFor([]types.Identifier{other.Identifier()}, 1))
}

func TestProduceRegistersAndBroadcastsCandidate(t *testing.T) {
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	loop, _, out := newTestLoop(t, key)

	loop.now = func() time.Time { return time.UnixMilli(int64(types.BlockDurationMillis) + 2000) }
	loop.produce(1)

	require.Len(t, out.blocks, 1)
	require.Equal(t, uint64(1), out.blocks[0].Height)

	block, _, found := loop.unfrozen.Lookup(1, out.blocks[0].Hash())
	require.True(t, found)
	require.Equal(t, key.Identifier(), block.SignerID)
}

// TestAttemptFreezeRefusesDiscontinuousCandidate replays the same
// close-packed new-verifier sequence cycle's own
// TestClosePackedNewVerifiersAreDiscontinuous exercises against the
// tracker in isolation, then confirms attemptFreeze refuses to freeze a
// vote-qualifying candidate that would make the cycle discontinuous
// (8's Proof-of-Diversity gate, scenario 6).
func TestAttemptFreezeRefusesDiscontinuousCandidate(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	signers := []types.Identifier{identifier(1), identifier(2), identifier(3), identifier(4), identifier(5)}

	genesisBlock := &types.Block{Height: 0, SignerID: signers[0]}
	genesisSnapshot := &types.BalanceSnapshot{
		BlockHeight: 0,
		Items:       []types.BalanceItem{{Identifier: signers[0], Balance: types.TotalSupply}},
	}
	mem := store.NewMemoryStore()
	frozen, err := chain.NewGenesis(mem, genesisBlock, genesisSnapshot, 16) // ringCap 16 -> trimMargin 32
	require.NoError(t, err)

	height := uint64(1)
	freeze := func(signer types.Identifier) {
		block := &types.Block{Height: height, PreviousBlockHash: frozen.FrozenEdgeBlock().Hash(), SignerID: signer}
		snapshot := &types.BalanceSnapshot{
			BlockHeight: height,
			Items:       []types.BalanceItem{{Identifier: signer, Balance: types.TotalSupply}},
		}
		require.NoError(t, frozen.FreezeBlock(block, snapshot))
		height++
	}
	for pos := 1; pos < 30; pos++ {
		freeze(signers[pos%5])
	}
	freeze(identifier(6)) // a brand-new verifier
	freeze(signers[0])    // an existing verifier; the next new one then lands well inside the spacing window

	exec := execution.New()
	unfrozenStore := unfrozen.New(scheme, exec, frozen)
	tallier := vote.New(frozen)
	admit := admission.New(scheme)
	cfg := config.DefaultConfig()
	out := &recordingOutbound{}
	loop := New(cfg, logs.NopLogger{}, frozen, unfrozenStore, tallier, admit, exec, scheme, out, nil, 0)

	candidateKey, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	parentBlock, parentSnapshot := frozen.FrozenEdgeBlock(), frozen.FrozenEdgeSnapshot()
	candidateSnapshot, err := exec.Execute(parentSnapshot, parentBlock, nil, candidateKey.Identifier(), 0)
	require.NoError(t, err)
	expectedStart := types.ExpectedStartTimestamp(0, height)
	candidate := &types.Block{
		Height:                height,
		PreviousBlockHash:     parentBlock.Hash(),
		SignerID:              candidateKey.Identifier(),
		BalanceListHash:       candidateSnapshot.Hash(),
		StartTimestamp:        expectedStart,
		VerificationTimestamp: expectedStart,
	}
	sig, err := scheme.Sign(candidateKey, candidate.SigningBody())
	require.NoError(t, err)
	candidate.SignerSignature = sig

	require.NoError(t, unfrozenStore.Register(candidate, height, 0, loop.verificationSlack(), loop.chainScore, loop.isVoteLeader))

	members := frozen.CurrentCycle()
	require.NotEmpty(t, members)
	for _, voter := range members {
		require.NoError(t, tallier.RegisterVote(height, voter, candidate.Hash(), 0, height, frozen.FrozenEdgeHeight()))
	}

	frozenBefore := frozen.FrozenEdgeHeight()
	loop.attemptFreeze(height)
	require.Equal(t, frozenBefore, frozen.FrozenEdgeHeight(), "a discontinuous candidate must not be frozen despite unanimous votes")

	_, _, stillPending := unfrozenStore.Lookup(height, candidate.Hash())
	require.True(t, stillPending)
}

func TestIterateProducesVotesAndFreezes(t *testing.T) {
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	loop, frozen, out := newTestLoop(t, key)

	loop.now = func() time.Time { return time.UnixMilli(int64(types.BlockDurationMillis) + 2000) }
	loop.iterate()

	require.Len(t, out.blocks, 1)
	require.Len(t, out.votes, 1)
	require.Equal(t, uint64(1), frozen.FrozenEdgeHeight(), "sole cycle member's own vote meets FreezeThreshold(1)")
}
