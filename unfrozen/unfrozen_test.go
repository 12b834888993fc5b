package unfrozen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nyzoverifier/crypto"
	"nyzoverifier/execution"
	"nyzoverifier/types"
)

const testSlack = types.Timestamp(7000)

type fakeFrozen struct {
	height     uint64
	block      *types.Block
	snapshot   *types.BalanceSnapshot
	genesisOn  bool
	priorBlock map[uint64]*types.Block
}

func (f fakeFrozen) FrozenEdgeHeight() uint64                   { return f.height }
func (f fakeFrozen) FrozenEdgeBlock() *types.Block              { return f.block }
func (f fakeFrozen) FrozenEdgeSnapshot() *types.BalanceSnapshot { return f.snapshot }
func (f fakeFrozen) FrozenBlockAt(height uint64) *types.Block {
	if height == f.height {
		return f.block
	}
	return f.priorBlock[height]
}
func (f fakeFrozen) InGenesisCycle() bool { return f.genesisOn }

func signBlock(t *testing.T, key *crypto.SigningKey, scheme crypto.SignatureScheme, block *types.Block) {
	sig, err := scheme.Sign(key, block.SigningBody())
	require.NoError(t, err)
	block.SignerSignature = sig
}

func TestRegisterRejectsOutOfRangeHeight(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	frozen := fakeFrozen{height: 10}
	s := New(scheme, execution.New(), frozen)

	block := &types.Block{Height: 10, SignerID: key.Identifier()}
	signBlock(t, key, scheme, block)

	err = s.Register(block, 50, 0, testSlack, nil, nil)
	require.Error(t, err)
}

func TestRegisterRejectsBadSignature(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	genesisBlock := &types.Block{Height: 0, SignerID: key.Identifier()}
	frozen := fakeFrozen{height: 0, block: genesisBlock}
	s := New(scheme, execution.New(), frozen)

	block := &types.Block{
		Height:                1,
		PreviousBlockHash:     genesisBlock.Hash(),
		SignerID:              key.Identifier(),
		StartTimestamp:        types.ExpectedStartTimestamp(0, 1),
		VerificationTimestamp: types.ExpectedStartTimestamp(0, 1),
		SignerSignature:       types.Signature{},
	}
	err = s.Register(block, 50, 0, testSlack, nil, nil)
	require.Error(t, err)
}

func TestRegisterRejectsStartTimestampMismatch(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	signerID := key.Identifier()

	genesisBlock := &types.Block{Height: 0, SignerID: signerID}
	genesisSnapshot := &types.BalanceSnapshot{
		BlockHeight: 0,
		Items:       []types.BalanceItem{{Identifier: signerID, Balance: types.TotalSupply}},
	}
	frozen := fakeFrozen{height: 0, block: genesisBlock, snapshot: genesisSnapshot, genesisOn: true}

	exec := execution.New()
	next, err := exec.Execute(genesisSnapshot, genesisBlock, nil, signerID, 0)
	require.NoError(t, err)

	block := &types.Block{
		Height:                1,
		PreviousBlockHash:     genesisBlock.Hash(),
		SignerID:              signerID,
		BalanceListHash:       next.Hash(),
		StartTimestamp:        types.ExpectedStartTimestamp(0, 1) + 1, // off by one millisecond
		VerificationTimestamp: types.ExpectedStartTimestamp(0, 1) + 1,
	}
	signBlock(t, key, scheme, block)

	s := New(scheme, exec, frozen)
	err = s.Register(block, 50, 0, testSlack, nil, nil)
	require.Error(t, err)

	_, _, ok := s.Lookup(1, block.Hash())
	require.False(t, ok)
}

func TestRegisterRejectsMismatchedPreviousHashAtImmediateParent(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	signerID := key.Identifier()

	genesisBlock := &types.Block{Height: 0, SignerID: signerID}
	genesisSnapshot := &types.BalanceSnapshot{
		BlockHeight: 0,
		Items:       []types.BalanceItem{{Identifier: signerID, Balance: types.TotalSupply}},
	}
	frozen := fakeFrozen{height: 0, block: genesisBlock, snapshot: genesisSnapshot, genesisOn: true}

	exec := execution.New()
	next, err := exec.Execute(genesisSnapshot, genesisBlock, nil, signerID, 0)
	require.NoError(t, err)

	wrongParent := types.Hash{0xff}
	block := &types.Block{
		Height:                1,
		PreviousBlockHash:     wrongParent, // does not match genesisBlock.Hash()
		SignerID:              signerID,
		BalanceListHash:       next.Hash(),
		StartTimestamp:        types.ExpectedStartTimestamp(0, 1),
		VerificationTimestamp: types.ExpectedStartTimestamp(0, 1),
	}
	signBlock(t, key, scheme, block)

	s := New(scheme, exec, frozen)
	err = s.Register(block, 50, 0, testSlack, nil, nil)
	require.Error(t, err)

	_, _, ok := s.Lookup(1, block.Hash())
	require.False(t, ok)
}

func TestRegisterAndLookupAcceptsValidCandidate(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	key, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	signerID := key.Identifier()

	genesisBlock := &types.Block{Height: 0, SignerID: signerID}
	genesisSnapshot := &types.BalanceSnapshot{
		BlockHeight: 0,
		Items:       []types.BalanceItem{{Identifier: signerID, Balance: types.TotalSupply}},
	}
	frozen := fakeFrozen{height: 0, block: genesisBlock, snapshot: genesisSnapshot, genesisOn: true}

	exec := execution.New()
	next, err := exec.Execute(genesisSnapshot, genesisBlock, nil, signerID, 0)
	require.NoError(t, err)

	block := &types.Block{
		Height:                1,
		PreviousBlockHash:     genesisBlock.Hash(),
		SignerID:              signerID,
		BalanceListHash:       next.Hash(),
		StartTimestamp:        types.ExpectedStartTimestamp(0, 1),
		VerificationTimestamp: types.ExpectedStartTimestamp(0, 1),
	}
	signBlock(t, key, scheme, block)

	s := New(scheme, exec, frozen)
	require.NoError(t, s.Register(block, 50, 0, testSlack, nil, nil))

	got, gotSnap, ok := s.Lookup(1, block.Hash())
	require.True(t, ok)
	require.Equal(t, block.Height, got.Height)
	require.Equal(t, next.Hash(), gotSnap.Hash())

	require.Len(t, s.CandidatesAt(1), 1)
	s.Prune(1)
	require.Len(t, s.CandidatesAt(1), 0)
}
