package execution

import (
	"github.com/shopspring/decimal"

	"nyzoverifier/types"
)

// UnlockSchedule governs the growth of BalanceSnapshot.unlock_threshold with
// height (4.2 step 6, version >= 1), grounded on the teacher's
// vm.CalculateBlockReward decimal-growth pattern (there used for reward
// decay, here for threshold growth).
type UnlockSchedule struct {
	InitialThreshold types.Amount
	GrowthPerPeriod  types.Amount
	PeriodBlocks     uint64
	MaxThreshold     types.Amount
}

var DefaultUnlockSchedule = UnlockSchedule{
	InitialThreshold: 0,
	GrowthPerPeriod:  1_000_000 * types.MicroUnitsPerUnit,
	PeriodBlocks:     100_000,
	MaxThreshold:     types.TotalSupply,
}

// ThresholdAt computes unlock_threshold(height).
func (s UnlockSchedule) ThresholdAt(height uint64) types.Amount {
	periods := height / s.PeriodBlocks
	if periods == 0 {
		return s.InitialThreshold
	}
	initial := decimal.NewFromInt(int64(s.InitialThreshold))
	growth := decimal.NewFromInt(int64(s.GrowthPerPeriod)).Mul(decimal.NewFromInt(int64(periods)))
	total := initial.Add(growth)
	max := decimal.NewFromInt(int64(s.MaxThreshold))
	if total.GreaterThan(max) {
		total = max
	}
	return types.Amount(total.IntPart())
}

// LockedAccounts identifies accounts whose outbound transfers count toward
// unlock_transfer_sum. Populated externally (genesis configuration); empty
// by default so the unlock accounting is a no-op until configured.
type LockedAccounts map[types.Identifier]bool

func (l LockedAccounts) IsLocked(id types.Identifier) bool {
	return l != nil && l[id]
}
