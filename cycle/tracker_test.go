package cycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nyzoverifier/types"
)

func id(b byte) types.Identifier {
	var out types.Identifier
	out[0] = b
	return out
}

func rotate(t *Tracker, signers []types.Identifier, rounds int, trimMargin int) *Tracker {
	for r := 0; r < rounds; r++ {
		for _, s := range signers {
			t = Derive(t, s, trimMargin)
		}
	}
	return t
}

func TestCycleTrackerBecomesCompleteAfterFourCycles(t *testing.T) {
	signers := []types.Identifier{id(1), id(2), id(3), id(4), id(5)}
	tr := rotate(Genesis(), signers, 5, 32)
	require.True(t, tr.Complete)
}

func TestSteadyRotationIsContinuous(t *testing.T) {
	signers := []types.Identifier{id(1), id(2), id(3), id(4), id(5)}
	tr := rotate(Genesis(), signers, 6, 32)
	require.True(t, tr.Complete)
	require.Equal(t, ContinuityContinuous, tr.Continuity)
}

func TestClosePackedNewVerifiersAreDiscontinuous(t *testing.T) {
	signers := []types.Identifier{id(1), id(2), id(3), id(4), id(5)}
	tr := rotate(Genesis(), signers, 6, 32)
	require.True(t, tr.Complete)

	// Introduce a brand-new verifier, then immediately another brand-new
	// verifier well inside the spacing window cycle_lengths[0]-1 requires.
	tr = Derive(tr, id(6), 32)
	require.Equal(t, VerifierNew, tr.NewVerifierStates[len(tr.NewVerifierStates)-1])

	tr = Derive(tr, id(1), 32)
	tr = Derive(tr, id(7), 32)

	require.Equal(t, ContinuityDiscontinuous, tr.Continuity)
}

func TestCurrentCycleReturnsOpenCycleMembers(t *testing.T) {
	signers := []types.Identifier{id(1), id(2), id(3)}
	tr := rotate(Genesis(), signers, 5, 32)
	cur := tr.CurrentCycle()
	require.NotEmpty(t, cur)
}
