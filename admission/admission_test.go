package admission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nyzoverifier/crypto"
	"nyzoverifier/types"
)

type fixedLookup struct {
	h types.Hash
}

func (f fixedLookup) HashAt(height uint64) (types.Hash, bool) {
	return f.h, true
}

func (f fixedLookup) CycleContains(id types.Identifier) bool {
	return true
}

func idOf(b byte) types.Identifier {
	var id types.Identifier
	id[0] = b
	return id
}

func signedTx(t *testing.T, key *crypto.SigningKey, scheme crypto.SignatureScheme, typ types.TxType, ts types.Timestamp, amount types.Amount, receiver types.Identifier, prevHash types.Hash) types.Transaction {
	tx := types.Transaction{
		Type:              typ,
		Timestamp:         ts,
		Amount:            amount,
		ReceiverID:        receiver,
		SenderID:          key.Identifier(),
		PreviousBlockHash: prevHash,
	}
	sig, err := scheme.Sign(key, tx.SigningBody())
	require.NoError(t, err)
	tx.Signature = sig
	return tx
}

func TestInsufficientFundsSecondTxDropped(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	keyB, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	idB := keyB.Identifier()
	idC := idOf(3)
	idD := idOf(4)

	parent := &types.BalanceSnapshot{
		Items: []types.BalanceItem{{Identifier: idB, Balance: 9_975_000}},
	}
	lookup := fixedLookup{h: types.ZeroHash}

	genesisStart := types.Timestamp(0)
	height := uint64(1)
	start := types.ExpectedStartTimestamp(genesisStart, height)

	tx1 := signedTx(t, keyB, scheme, types.TxStandard, start+1, 6*types.MicroUnitsPerUnit, idC, types.ZeroHash)
	tx2 := signedTx(t, keyB, scheme, types.TxStandard, start+2, 5*types.MicroUnitsPerUnit, idD, types.ZeroHash)

	a := New(scheme)
	approved := a.Filter([]types.Transaction{tx1, tx2}, height, 0, genesisStart, lookup, parent)
	require.Len(t, approved, 1)
	require.Equal(t, idC, approved[0].ReceiverID)
}

func TestDustFilterDropsSmallTransferToNewAccount(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	keyA, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	idA := keyA.Identifier()
	idE := idOf(5)

	parent := &types.BalanceSnapshot{
		Items: []types.BalanceItem{{Identifier: idA, Balance: types.TotalSupply}},
	}
	lookup := fixedLookup{h: types.ZeroHash}
	genesisStart := types.Timestamp(0)
	height := uint64(1)
	start := types.ExpectedStartTimestamp(genesisStart, height)

	tx := signedTx(t, keyA, scheme, types.TxStandard, start+1, 5*types.MicroUnitsPerUnit, idE, types.ZeroHash)

	a := New(scheme)
	approved := a.Filter([]types.Transaction{tx}, height, 0, genesisStart, lookup, parent)
	require.Empty(t, approved)
}

func TestTimeWindowDropsOutOfRangeTimestamp(t *testing.T) {
	scheme := crypto.SchnorrScheme{}
	keyA, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	parent := &types.BalanceSnapshot{Items: []types.BalanceItem{{Identifier: keyA.Identifier(), Balance: types.TotalSupply}}}
	lookup := fixedLookup{h: types.ZeroHash}

	tx := signedTx(t, keyA, scheme, types.TxStandard, 999_999_999, 1, idOf(2), types.ZeroHash)
	a := New(scheme)
	approved := a.Filter([]types.Transaction{tx}, 1, 0, 0, lookup, parent)
	require.Empty(t, approved)
}
