package vote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nyzoverifier/types"
)

type fakeFrozen struct {
	members   map[types.Identifier]bool
	genesisOn bool
}

func (f fakeFrozen) CycleContains(id types.Identifier) bool { return f.members[id] }
func (f fakeFrozen) InGenesisCycle() bool                   { return f.genesisOn }

func identifier(b byte) types.Identifier {
	var id types.Identifier
	id[0] = b
	return id
}

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestRegisterVoteRejectsNonCycleMember(t *testing.T) {
	frozen := fakeFrozen{members: map[types.Identifier]bool{}}
	tl := New(frozen)
	err := tl.RegisterVote(1, identifier(1), hashOf(1), 0, 50, 0)
	require.Error(t, err)
}

func TestLeadingHashMajorityAndTieBreak(t *testing.T) {
	a, b, c := identifier(1), identifier(2), identifier(3)
	frozen := fakeFrozen{members: map[types.Identifier]bool{a: true, b: true, c: true}}
	tl := New(frozen)

	require.NoError(t, tl.RegisterVote(1, a, hashOf(9), 0, 50, 0))
	require.NoError(t, tl.RegisterVote(1, b, hashOf(9), 0, 50, 0))
	require.NoError(t, tl.RegisterVote(1, c, hashOf(1), 0, 50, 0))

	hash, count, ok := tl.LeadingHash(1)
	require.True(t, ok)
	require.Equal(t, 2, count)
	require.Equal(t, hashOf(9), hash)

	// One vote each for two hashes: the lexicographically smaller wins.
	require.NoError(t, tl.RegisterVote(2, a, hashOf(5), 0, 50, 0))
	require.NoError(t, tl.RegisterVote(2, b, hashOf(3), 0, 50, 0))

	hash, count, ok = tl.LeadingHash(2)
	require.True(t, ok)
	require.Equal(t, 1, count)
	require.Equal(t, hashOf(3), hash)
}

func TestVoteFlipThrottledUntilConfirmationsAndMinAge(t *testing.T) {
	a := identifier(1)
	frozen := fakeFrozen{members: map[types.Identifier]bool{a: true}}
	tl := New(frozen)
	fixed := time.Unix(0, 0)
	tl.now = func() time.Time { return fixed }

	require.NoError(t, tl.RegisterVote(1, a, hashOf(1), 0, 50, 0))
	require.NoError(t, tl.RegisterVote(1, a, hashOf(2), 0, 50, 0))

	hash, _, ok := tl.LeadingHash(1)
	require.True(t, ok)
	require.Equal(t, hashOf(1), hash, "flip should not take effect before confirmations/min-age")

	fixed = fixed.Add(types.FlipMinAgeMillis * time.Millisecond)
	require.NoError(t, tl.RegisterVote(1, a, hashOf(2), 0, 50, 0))

	hash, _, ok = tl.LeadingHash(1)
	require.True(t, ok)
	require.Equal(t, hashOf(2), hash)
}

func TestPruneDropsOldHeights(t *testing.T) {
	a := identifier(1)
	frozen := fakeFrozen{members: map[types.Identifier]bool{a: true}}
	tl := New(frozen)
	require.NoError(t, tl.RegisterVote(1, a, hashOf(1), 0, 50, 0))
	tl.Prune(types.VoteRetentionBlocks + 1)
	_, _, ok := tl.LeadingHash(1)
	require.False(t, ok)
}
