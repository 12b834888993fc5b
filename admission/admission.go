// Package admission implements C7, the deterministic transaction filter
// pipeline (4.3) that selects an approved subset given a parent balance
// snapshot, grounded on the teacher's txpool.TxPool duplicate/limit checks
// and its SortTxsByFBBalanceAndComputeHash sort-then-hash pipeline shape.
package admission

import (
	"sort"

	"github.com/spaolacci/murmur3"

	"nyzoverifier/crypto"
	"nyzoverifier/types"
)

// ChainLookup resolves the previous-hash binding check (4.3 step 4) and
// current cycle membership (4.3 step 6) against the frozen chain without
// admission depending on chain's package directly (keeps the dependency
// direction C1<-..<-C7<-C8 intact: C7 only needs a narrow read
// capability, not the whole FrozenChain type). CycleContains is queried
// live rather than cached in Rules, since the cycle changes every time a
// block freezes and a stale snapshot would silently reopen the filter
// this step exists to close.
type ChainLookup interface {
	HashAt(height uint64) (types.Hash, bool)
	CycleContains(id types.Identifier) bool
}

// Rules bundles the domain table 4.3 step 6 defers to §6 that does not
// change block-to-block: which accounts may send Seed transactions.
// Cycle-source eligibility is looked up live against ChainLookup instead,
// since cycle membership rotates with every freeze.
type Rules struct {
	SeedAccounts map[types.Identifier]bool
}

func (r Rules) seedAllowed(id types.Identifier) bool {
	return r.SeedAccounts == nil || r.SeedAccounts[id]
}

// Admission is the C7 filter, parameterised by the signature scheme and
// domain rule tables; it holds no mutable state between calls.
type Admission struct {
	Scheme crypto.SignatureScheme
	Rules  Rules
}

func New(scheme crypto.SignatureScheme) *Admission {
	return &Admission{Scheme: scheme}
}

// Filter runs 4.3 steps 1-8, returning the deterministic approved subset
// for the given target height. genesisStart anchors the height's time
// window (3.3).
func (a *Admission) Filter(candidates []types.Transaction, height uint64, version uint16, genesisStart types.Timestamp, chain ChainLookup, parent *types.BalanceSnapshot) []types.Transaction {
	txs := normalise(candidates)
	txs = filterTimeWindow(txs, height, genesisStart)
	txs = a.filterType(txs, height, version)
	txs = filterPreviousHash(txs, chain)
	txs = a.filterSignature(txs)
	txs = a.filterDomainRules(txs, chain)
	txs = simulateBalances(txs, parent)
	txs = antiDustFilter(txs, parent)
	return txs
}

// Assemble runs Filter and then applies the block-assembly capacity cap
// (4.3 step 9).
func (a *Admission) Assemble(candidates []types.Transaction, height uint64, version uint16, genesisStart types.Timestamp, chain ChainLookup, parent *types.BalanceSnapshot, maxTxPerBlock int) []types.Transaction {
	approved := a.Filter(candidates, height, version, genesisStart, chain, parent)
	return capAndRestoreOrder(approved, maxTxPerBlock)
}

// normalise sorts by (timestamp asc, signature asc) and deduplicates by
// full-byte equality, using a murmur3 hash bucket the way
// txpool.TxPool buckets candidates before the exact-equality check.
func normalise(candidates []types.Transaction) []types.Transaction {
	sorted := make([]types.Transaction, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return lessBytes(sorted[i].Signature[:], sorted[j].Signature[:])
	})

	seen := make(map[uint64][][]byte)
	out := sorted[:0]
	for _, tx := range sorted {
		enc := tx.Encode()
		h := murmur3.Sum64(enc)
		bucket := seen[h]
		dup := false
		for _, prev := range bucket {
			if string(prev) == string(enc) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[h] = append(bucket, enc)
		out = append(out, tx)
	}
	return out
}

func lessBytes(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func filterTimeWindow(txs []types.Transaction, height uint64, genesisStart types.Timestamp) []types.Transaction {
	start := types.ExpectedStartTimestamp(genesisStart, height)
	end := start + types.BlockDurationMillis
	out := txs[:0]
	for _, tx := range txs {
		if tx.Timestamp >= start && tx.Timestamp < end {
			out = append(out, tx)
		}
	}
	return out
}

func (a *Admission) filterType(txs []types.Transaction, height uint64, version uint16) []types.Transaction {
	out := txs[:0]
	for _, tx := range txs {
		switch tx.Type {
		case types.TxCoinGeneration:
			if height != 0 {
				continue
			}
		case types.TxSeed:
			if height >= types.SeedCutoffHeight {
				continue
			}
		case types.TxCycle, types.TxCycleSignature:
			if version < 2 {
				continue
			}
		}
		out = append(out, tx)
	}
	return out
}

func filterPreviousHash(txs []types.Transaction, chain ChainLookup) []types.Transaction {
	out := txs[:0]
	for _, tx := range txs {
		want, ok := chain.HashAt(tx.PreviousHashHeight)
		if !ok || want != tx.PreviousBlockHash {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (a *Admission) filterSignature(txs []types.Transaction) []types.Transaction {
	out := txs[:0]
	for i := range txs {
		tx := &txs[i]
		if tx.Type == types.TxCoinGeneration {
			out = append(out, *tx)
			continue
		}
		if a.Scheme.Verify(tx.Signature, tx.SigningBody(), tx.SenderID) {
			out = append(out, *tx)
		}
	}
	return out
}

func (a *Admission) filterDomainRules(txs []types.Transaction, chain ChainLookup) []types.Transaction {
	out := txs[:0]
	for _, tx := range txs {
		switch tx.Type {
		case types.TxSeed:
			if !a.Rules.seedAllowed(tx.SenderID) {
				continue
			}
		case types.TxCycle, types.TxCycleSignature:
			if !chain.CycleContains(tx.SenderID) {
				continue
			}
		}
		out = append(out, tx)
	}
	return out
}

// simulateBalances is 4.3 step 7: sequential balance simulation against a
// working copy of the parent snapshot.
func simulateBalances(txs []types.Transaction, parent *types.BalanceSnapshot) []types.Transaction {
	balances := make(map[types.Identifier]types.Amount, len(parent.Items))
	for _, it := range parent.Items {
		balances[it.Identifier] = it.Balance
	}

	out := txs[:0]
	for _, tx := range txs {
		if tx.Type == types.TxCoinGeneration || tx.Type == types.TxCycle || tx.Type == types.TxCycleSignature {
			out = append(out, tx)
			continue
		}
		bal, ok := balances[tx.SenderID]
		if !ok || bal < tx.Amount {
			continue
		}
		balances[tx.SenderID] = bal - tx.Amount
		balances[tx.ReceiverID] += tx.Amount - tx.Fee()
		out = append(out, tx)
	}
	return out
}

// antiDustFilter is 4.3 step 8(a)/(b).
func antiDustFilter(txs []types.Transaction, parent *types.BalanceSnapshot) []types.Transaction {
	netRemaining := make(map[types.Identifier]types.Amount, len(parent.Items))
	for _, it := range parent.Items {
		netRemaining[it.Identifier] = it.Balance
	}
	for _, tx := range txs {
		if tx.Type == types.TxCoinGeneration || tx.Type == types.TxCycle || tx.Type == types.TxCycleSignature {
			continue
		}
		netRemaining[tx.SenderID] -= tx.Amount
		netRemaining[tx.ReceiverID] += tx.Amount - tx.Fee()
	}

	out := txs[:0]
	for _, tx := range txs {
		if tx.Type != types.TxCoinGeneration && tx.Type != types.TxCycle && tx.Type != types.TxCycleSignature {
			_, receiverExists := parent.Find(tx.ReceiverID)
			if !receiverExists && tx.Amount > 1 && tx.Amount < types.MinPreferredBalance {
				continue
			}
			remain := netRemaining[tx.SenderID]
			if remain > 0 && remain < types.MinPreferredBalance {
				continue
			}
		}
		out = append(out, tx)
	}
	return out
}

// capAndRestoreOrder is 4.3 step 9: keep the top-N by priority
// (amount desc, type priority, signature asc), then restore timestamp
// order before emitting.
func capAndRestoreOrder(txs []types.Transaction, maxTxPerBlock int) []types.Transaction {
	if len(txs) <= maxTxPerBlock {
		return txs
	}
	ranked := make([]types.Transaction, len(txs))
	copy(ranked, txs)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Amount != ranked[j].Amount {
			return ranked[i].Amount > ranked[j].Amount
		}
		if ranked[i].Type != ranked[j].Type {
			return typePriority(ranked[i].Type) < typePriority(ranked[j].Type)
		}
		return lessBytes(ranked[i].Signature[:], ranked[j].Signature[:])
	})
	kept := ranked[:maxTxPerBlock]
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp < kept[j].Timestamp })
	return kept
}

// typePriority orders types by how strongly block assembly should prefer
// them when trimming to capacity: coordination/administrative traffic
// first, ordinary transfers last.
func typePriority(t types.TxType) int {
	switch t {
	case types.TxCoinGeneration:
		return 0
	case types.TxCycleSignature:
		return 1
	case types.TxCycle:
		return 2
	case types.TxSeed:
		return 3
	case types.TxStandard:
		return 4
	default:
		return 5
	}
}
