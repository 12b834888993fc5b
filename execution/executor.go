// Package execution implements C6, the pure BlockExecutor function
// (parent_snapshot, parent_block, txs, signer_id, version) -> next_snapshot,
// grounded on the teacher's vm.CalculateBlockReward fee/reward math style
// generalised from reward issuance to fee distribution and account
// maintenance.
package execution

import (
	"sort"

	"nyzoverifier/chainerr"
	"nyzoverifier/types"
)

type accountState struct {
	balance        types.Amount
	blocksUntilFee uint16
}

// Executor is stateless; every call is a pure function of its arguments.
type Executor struct {
	Locked   LockedAccounts
	Schedule UnlockSchedule
}

func New() *Executor {
	return &Executor{Schedule: DefaultUnlockSchedule}
}

// Execute runs 4.2 steps 1-8 and returns the next snapshot or a Fatal
// ChainError on internal invariant violation. Transactions are assumed
// already admitted (TxAdmission has already run).
func (e *Executor) Execute(parent *types.BalanceSnapshot, parentBlock *types.Block, txs []types.Transaction, signerID types.Identifier, version uint16) (*types.BalanceSnapshot, error) {
	balances := make(map[types.Identifier]*accountState, len(parent.Items))
	for _, it := range parent.Items {
		balances[it.Identifier] = &accountState{balance: it.Balance, blocksUntilFee: it.BlocksUntilFee}
	}
	totalFees := types.Amount(parent.RolloverFees)
	cyclePool := computeCyclePool(balances)
	unlockTransferSum := parent.UnlockTransferSum

	// step 2: apply transactions in order.
	for i := range txs {
		tx := &txs[i]
		fee := tx.Fee()

		switch tx.Type {
		case types.TxCoinGeneration:
			// no sender debit
		case types.TxCycle, types.TxCycleSignature:
			cyclePool -= tx.Amount
		default:
			acct, ok := balances[tx.SenderID]
			if !ok {
				return nil, chainerr.New(chainerr.Fatal, chainerr.ReasonInsufficientFunds,
					"execution: sender %s has no tracked balance at height %d", tx.SenderID, parentBlock.Height+1)
			}
			acct.balance -= tx.Amount
			if version >= 1 && e.Locked.IsLocked(tx.SenderID) {
				unlockTransferSum += tx.Amount
			}
		}

		if credit := tx.Amount - fee; credit > 0 {
			getOrCreate(balances, tx.ReceiverID).balance += credit
		}
		totalFees += fee
	}

	// step 3: periodic account-maintenance fee.
	for _, acct := range balances {
		if acct.blocksUntilFee == 0 {
			acct.blocksUntilFee = types.AccountFeePeriod
		}
		acct.blocksUntilFee--
		if acct.blocksUntilFee == 0 && acct.balance < types.FeeThreshold {
			acct.balance -= 1
			totalFees += 1
			acct.blocksUntilFee = types.AccountFeePeriod
		}
	}

	// step 4: distribute fees across the up-to-9 most recent distinct signers.
	prevSigners := buildPreviousSigners(signerID, parent.PreviousSigners)
	share, remainder := distributeFees(totalFees, len(prevSigners))
	for _, pid := range prevSigners {
		getOrCreate(balances, pid).balance += share
	}

	// step 5: rebuild items, sorted ascending, dropping zero balances.
	items := make([]types.BalanceItem, 0, len(balances))
	for id, acct := range balances {
		if acct.balance < 0 {
			return nil, chainerr.New(chainerr.Fatal, chainerr.ReasonSupplyInvariantViolated,
				"execution: account %s went negative (%d)", id, acct.balance)
		}
		if acct.balance == 0 {
			continue
		}
		items = append(items, types.BalanceItem{Identifier: id, Balance: acct.balance, BlocksUntilFee: acct.blocksUntilFee})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Identifier.Less(items[j].Identifier) })

	next := &types.BalanceSnapshot{
		BlockchainVersion: version,
		BlockHeight:       parentBlock.Height + 1,
		RolloverFees:      uint8(remainder),
		PreviousSigners:   prevSigners,
		Items:             items,
	}

	if version >= 1 {
		next.UnlockTransferSum = unlockTransferSum
		next.UnlockThreshold = e.Schedule.ThresholdAt(next.BlockHeight)
		if next.UnlockTransferSum > next.UnlockThreshold {
			return nil, chainerr.New(chainerr.Fatal, chainerr.ReasonSupplyInvariantViolated,
				"execution: unlock_transfer_sum %d exceeds unlock_threshold %d at height %d",
				next.UnlockTransferSum, next.UnlockThreshold, next.BlockHeight)
		}
	}

	if version >= 2 {
		next.PendingCycleTxs, next.RecentlyApprovedCycleTxs = promoteCycleTxs(parent, txs)
	}

	if err := next.Validate(); err != nil {
		return nil, chainerr.Wrap(chainerr.Fatal, chainerr.ReasonSupplyInvariantViolated, err)
	}
	return next, nil
}

func getOrCreate(balances map[types.Identifier]*accountState, id types.Identifier) *accountState {
	acct, ok := balances[id]
	if !ok {
		acct = &accountState{blocksUntilFee: types.AccountFeePeriod}
		balances[id] = acct
	}
	return acct
}

// computeCyclePool is the synthetic cycle-account balance at the start of
// the block (4.2 step 2): TOTAL_SUPPLY minus every non-cycle item balance.
func computeCyclePool(balances map[types.Identifier]*accountState) types.Amount {
	sum := types.Amount(0)
	for _, acct := range balances {
		sum += acct.balance
	}
	return types.TotalSupply - sum
}

// buildPreviousSigners is (V ++ parent.PreviousSigners) deduplicated in
// first-occurrence order, truncated to MaxPrevSigners (4.2 step 4).
func buildPreviousSigners(signerID types.Identifier, parentSigners []types.Identifier) []types.Identifier {
	seen := make(map[types.Identifier]bool, types.MaxPrevSigners)
	out := make([]types.Identifier, 0, types.MaxPrevSigners)
	add := func(id types.Identifier) {
		if seen[id] || len(out) >= types.MaxPrevSigners {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(signerID)
	for _, id := range parentSigners {
		add(id)
	}
	return out
}

// distributeFees splits total equally among n recipients; the remainder
// becomes rollover_fees.
func distributeFees(total types.Amount, n int) (share types.Amount, remainder types.Amount) {
	if n == 0 {
		return 0, total
	}
	share = total / types.Amount(n)
	remainder = total - share*types.Amount(n)
	return share, remainder
}

// promoteCycleTxs moves pending cycle transactions whose voter-signature
// set now exceeds cycle supermajority into the approved list (4.2 step 7).
// Supermajority is judged by count alone: the threshold is FreezeThreshold
// over the parent snapshot's previous-signer count, and neither this
// function nor admission checks the voters' identities, committee
// membership or signatures (admission checks only the sender's cycle
// membership).
func promoteCycleTxs(parent *types.BalanceSnapshot, txs []types.Transaction) (pending, approved []types.Transaction) {
	const retentionWindow = 100

	pending = append(pending, parent.PendingCycleTxs...)
	for i := range txs {
		tx := &txs[i]
		if tx.Type == types.TxCycle || tx.Type == types.TxCycleSignature {
			pending = append(pending, *tx)
		}
	}

	approved = append(approved, parent.RecentlyApprovedCycleTxs...)
	remaining := pending[:0]
	threshold := types.FreezeThreshold(len(parent.PreviousSigners))
	for _, tx := range pending {
		if len(tx.CycleSignatures) >= threshold {
			approved = append(approved, tx)
		} else {
			remaining = append(remaining, tx)
		}
	}
	pending = remaining

	if len(approved) > retentionWindow {
		approved = approved[len(approved)-retentionWindow:]
	}
	return pending, approved
}
