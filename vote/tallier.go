// Package vote implements C10, VoteTallier: per-height vote bookkeeping
// with a throttled flip-vote rule, grounded on the teacher's
// snowball.go (RecordVote/leading-preference-by-count derivation,
// generalised from Snowball's alpha/confidence counters to the spec's
// fixed FREEZE_THRESHOLD majority rule) and consensusEngine.go's vote
// collection loop.
package vote

import (
	"sort"
	"time"

	"github.com/dchest/siphash"

	"nyzoverifier/chainerr"
	"nyzoverifier/types"
)

// siphash keys for the flip-counter bucket index; fixed and unkeyed by
// secret material since this only needs a well-distributed bucket, not
// cryptographic unforgeability (the underlying vote is still signature
// verified upstream before reaching the tallier).
const sipK0, sipK1 = 0x766f7465, 0x74616c6c // "vote"/"tall" ASCII-derived constants

type voteEntry struct {
	hash       types.Hash
	receivedAt time.Time
}

// Frozen is the narrow view VoteTallier needs of FrozenChain.
type Frozen interface {
	CycleContains(id types.Identifier) bool
	InGenesisCycle() bool
}

// Tallier holds one vote per (height, voter) plus a flip-throttle
// counter keyed by a siphash bucket of (height, voter, candidate hash).
type Tallier struct {
	votes map[uint64]map[types.Identifier]voteEntry
	flips map[uint64]map[uint64]int // height -> siphash bucket -> count

	flipConfirmations int
	flipMinAge        time.Duration

	frozen Frozen
	now    func() time.Time
}

func New(frozen Frozen) *Tallier {
	return &Tallier{
		votes:             make(map[uint64]map[types.Identifier]voteEntry),
		flips:             make(map[uint64]map[uint64]int),
		flipConfirmations: types.FlipConfirmations,
		flipMinAge:        types.FlipMinAgeMillis * time.Millisecond,
		frozen:            frozen,
		now:               time.Now,
	}
}

func flipBucket(height uint64, voter types.Identifier, hash types.Hash) uint64 {
	buf := make([]byte, 8+len(voter)+len(hash))
	for i := 0; i < 8; i++ {
		buf[i] = byte(height >> (8 * uint(7-i)))
	}
	copy(buf[8:], voter[:])
	copy(buf[8+len(voter):], hash[:])
	return siphash.Hash(sipK0, sipK1, buf)
}

// RegisterVote is 4.6's register_vote.
func (t *Tallier) RegisterVote(height uint64, voter types.Identifier, votedHash types.Hash, messageTimestamp types.Timestamp, openEdgeHeight, frozenEdgeHeight uint64) error {
	if !t.frozen.CycleContains(voter) && !t.frozen.InGenesisCycle() {
		return chainerr.New(chainerr.Invalid, chainerr.ReasonSignature,
			"vote: voter %s is not a member of the current cycle", voter)
	}
	if height <= frozenEdgeHeight || height > openEdgeHeight {
		return chainerr.New(chainerr.Invalid, chainerr.ReasonTimestamp,
			"vote: height %d outside (%d, %d]", height, frozenEdgeHeight, openEdgeHeight)
	}

	byVoter, ok := t.votes[height]
	if !ok {
		byVoter = make(map[types.Identifier]voteEntry)
		t.votes[height] = byVoter
	}

	now := t.now()
	prior, hadPrior := byVoter[voter]
	if !hadPrior {
		byVoter[voter] = voteEntry{hash: votedHash, receivedAt: now}
		return nil
	}
	if prior.hash == votedHash {
		return nil
	}

	heightFlips, ok := t.flips[height]
	if !ok {
		heightFlips = make(map[uint64]int)
		t.flips[height] = heightFlips
	}
	bucket := flipBucket(height, voter, votedHash)
	heightFlips[bucket]++
	if heightFlips[bucket] >= t.flipConfirmations && now.Sub(prior.receivedAt) >= t.flipMinAge {
		byVoter[voter] = voteEntry{hash: votedHash, receivedAt: now}
		delete(heightFlips, bucket)
	}
	return nil
}

// LeadingHash is 4.6's leading_hash(h): the highest-count hash among
// votes from current cycle members, ties broken by lexicographically
// smallest hash.
func (t *Tallier) LeadingHash(height uint64) (types.Hash, int, bool) {
	byVoter, ok := t.votes[height]
	if !ok {
		return types.ZeroHash, 0, false
	}

	counts := make(map[types.Hash]int)
	for voter, entry := range byVoter {
		if !t.frozen.CycleContains(voter) && !t.frozen.InGenesisCycle() {
			continue
		}
		counts[entry.hash]++
	}
	if len(counts) == 0 {
		return types.ZeroHash, 0, false
	}

	hashes := make([]types.Hash, 0, len(counts))
	for h := range counts {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		if counts[hashes[i]] != counts[hashes[j]] {
			return counts[hashes[i]] > counts[hashes[j]]
		}
		return lessHash(hashes[i], hashes[j])
	})
	best := hashes[0]
	return best, counts[best], true
}

func lessHash(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Prune drops entries at heights <= newFrozenHeight - VOTE_RETENTION_BLOCKS.
func (t *Tallier) Prune(newFrozenHeight uint64) {
	if newFrozenHeight < types.VoteRetentionBlocks {
		return
	}
	cutoff := newFrozenHeight - types.VoteRetentionBlocks
	for h := range t.votes {
		if h <= cutoff {
			delete(t.votes, h)
		}
	}
	for h := range t.flips {
		if h <= cutoff {
			delete(t.flips, h)
		}
	}
}
