package types

// Protocol constants from 6.4. These are shared by every component that
// needs them; component-level tuning knobs (loop interval, store batching,
// ...) live in config instead.
const (
	TotalSupply         Amount = 100_000_000 * MicroUnitsPerUnit
	BlockDurationMillis        = 7000
	MinPreferredBalance Amount = 10 * MicroUnitsPerUnit
	MaxPrevSigners             = 9
	VoteRetentionBlocks        = 40
	MaxUnfrozenPerHeight       = 10

	// FeeThreshold and AccountFeePeriod govern the periodic
	// account-maintenance fee (4.2 step 3).
	FeeThreshold     Amount = 10 * MicroUnitsPerUnit
	AccountFeePeriod uint16 = 500

	// FlipConfirmations and FlipMinAgeMillis fix the vote-flip throttle
	// per 9's own conservative default.
	FlipConfirmations = 2
	FlipMinAgeMillis  = 2 * BlockDurationMillis

	// SeedCutoffHeight is the published cutoff height below which Seed
	// transactions are admissible (4.3 step 3); chosen as this spec's own
	// fixed default since the distillation leaves the exact value open.
	SeedCutoffHeight uint64 = 1_000_000
)

// FreezeThreshold computes ⌈3m/4⌉+1 for a cycle of size m.
func FreezeThreshold(cycleSize int) int {
	return (3*cycleSize+3)/4 + 1
}
