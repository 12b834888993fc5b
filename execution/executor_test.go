package execution

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nyzoverifier/types"
)

func acct(b byte) types.Identifier {
	var id types.Identifier
	id[0] = b
	return id
}

func genesisSnapshot(signer types.Identifier) *types.BalanceSnapshot {
	return &types.BalanceSnapshot{
		BlockchainVersion: 0,
		BlockHeight:       0,
		Items: []types.BalanceItem{
			{Identifier: signer, Balance: types.TotalSupply, BlocksUntilFee: types.AccountFeePeriod},
		},
	}
}

func TestExecuteCoinGenerationGenesis(t *testing.T) {
	signerA := acct(1)
	parent := &types.BalanceSnapshot{BlockHeight: 0}
	parentBlock := &types.Block{Height: 0}
	txs := []types.Transaction{
		{Type: types.TxCoinGeneration, Amount: types.TotalSupply, ReceiverID: signerA},
	}

	exec := New()
	next, err := exec.Execute(parent, parentBlock, txs, signerA, 0)
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	require.Equal(t, signerA, next.Items[0].Identifier)
	require.Equal(t, types.TotalSupply, next.Items[0].Balance)
	require.NoError(t, next.Validate())
}

func TestExecuteStandardTransfer(t *testing.T) {
	signerA := acct(1)
	signerB := acct(2)
	parent := genesisSnapshot(signerA)
	parentBlock := &types.Block{Height: 0}

	tx := types.Transaction{
		Type:       types.TxStandard,
		Amount:     10 * types.MicroUnitsPerUnit,
		SenderID:   signerA,
		ReceiverID: signerB,
	}
	require.Equal(t, types.Amount(25_000), tx.Fee())

	exec := New()
	next, err := exec.Execute(parent, parentBlock, []types.Transaction{tx}, signerA, 0)
	require.NoError(t, err)
	require.NoError(t, next.Validate())

	bItem, ok := next.Find(signerB)
	require.True(t, ok)
	require.Equal(t, types.Amount(9_975_000), bItem.Balance)

	aItem, ok := next.Find(signerA)
	require.True(t, ok)
	// A paid out 10 units and gets its fee share back since it is the sole
	// previous signer.
	require.Equal(t, types.TotalSupply-10*types.MicroUnitsPerUnit+25_000, aItem.Balance)
}

func TestExecuteRejectsUnknownSender(t *testing.T) {
	signerA := acct(1)
	parent := genesisSnapshot(signerA)
	parentBlock := &types.Block{Height: 0}
	tx := types.Transaction{Type: types.TxStandard, Amount: 1, SenderID: acct(9), ReceiverID: signerA}

	exec := New()
	_, err := exec.Execute(parent, parentBlock, []types.Transaction{tx}, signerA, 0)
	require.Error(t, err)
}
