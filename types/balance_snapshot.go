package types

import "fmt"

// BalanceItem is one entry of a BalanceSnapshot (3.2).
type BalanceItem struct {
	Identifier     Identifier
	Balance        Amount // > 0
	BlocksUntilFee uint16
}

// BalanceSnapshot is the sorted account state after a block's execution (3.2).
type BalanceSnapshot struct {
	BlockchainVersion uint16
	BlockHeight       uint64
	RolloverFees      uint8 // 0..2
	PreviousSigners   []Identifier
	Items             []BalanceItem

	// Version >= 1.
	UnlockThreshold    Amount
	UnlockTransferSum  Amount

	// Version >= 2.
	PendingCycleTxs          []Transaction
	RecentlyApprovedCycleTxs []Transaction
}

// Validate checks the invariants from 3.2 that must always hold.
func (s *BalanceSnapshot) Validate() error {
	if len(s.PreviousSigners) > MaxPrevSigners {
		return fmt.Errorf("types: previous_signers len %d exceeds %d", len(s.PreviousSigners), MaxPrevSigners)
	}
	seenSigners := make(map[Identifier]bool, len(s.PreviousSigners))
	for _, id := range s.PreviousSigners {
		if seenSigners[id] {
			return fmt.Errorf("types: duplicate previous_signer %s", id)
		}
		seenSigners[id] = true
	}
	if s.RolloverFees > 2 {
		return fmt.Errorf("types: rollover_fees %d out of range 0..2", s.RolloverFees)
	}
	total := Amount(s.RolloverFees)
	var prev *Identifier
	for i := range s.Items {
		it := &s.Items[i]
		if it.Balance <= 0 {
			return fmt.Errorf("types: item %s has non-positive balance %d", it.Identifier, it.Balance)
		}
		if prev != nil && !prev.Less(it.Identifier) {
			return fmt.Errorf("types: items not strictly ascending at index %d", i)
		}
		prev = &s.Items[i].Identifier
		total += it.Balance
	}
	if total != TotalSupply {
		return fmt.Errorf("types: supply invariant violated: items+rollover=%d want %d", total, TotalSupply)
	}
	return nil
}

// Find returns the item for id, or false if the account is absent.
func (s *BalanceSnapshot) Find(id Identifier) (BalanceItem, bool) {
	lo, hi := 0, len(s.Items)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case s.Items[mid].Identifier == id:
			return s.Items[mid], true
		case s.Items[mid].Identifier.Less(id):
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return BalanceItem{}, false
}

// Hash is the double-SHA-256 over the canonical encoding (3.2, 6.2).
func (s *BalanceSnapshot) Hash() Hash {
	return HashBytes(s.Encode())
}

// Encode writes the canonical bytes of 6.2:
// version ‖ block_height ‖ rollover_fees ‖ prev_signers_count ‖ prev_signer_ids…
// ‖ items_count ‖ (identifier ‖ balance ‖ blocks_until_fee)* ‖ [v>=1] ‖ [v>=2].
func (s *BalanceSnapshot) Encode() []byte {
	w := NewWriter()
	w.PutU16(s.BlockchainVersion)
	w.PutU64(s.BlockHeight)
	w.PutU8(s.RolloverFees)
	w.PutU32(uint32(len(s.PreviousSigners)))
	for _, id := range s.PreviousSigners {
		w.PutIdentifier(id)
	}
	w.PutU32(uint32(len(s.Items)))
	for _, it := range s.Items {
		w.PutIdentifier(it.Identifier)
		w.PutAmount(it.Balance)
		w.PutU16(it.BlocksUntilFee)
	}
	if s.BlockchainVersion >= 1 {
		w.PutAmount(s.UnlockThreshold)
		w.PutAmount(s.UnlockTransferSum)
	}
	if s.BlockchainVersion >= 2 {
		w.PutU32(uint32(len(s.PendingCycleTxs)))
		for i := range s.PendingCycleTxs {
			w.PutBlob(s.PendingCycleTxs[i].Encode())
		}
		w.PutU32(uint32(len(s.RecentlyApprovedCycleTxs)))
		for i := range s.RecentlyApprovedCycleTxs {
			w.PutBlob(s.RecentlyApprovedCycleTxs[i].Encode())
		}
	}
	return w.Bytes()
}

func DecodeBalanceSnapshot(b []byte) (*BalanceSnapshot, error) {
	r := NewReader(b)
	s := &BalanceSnapshot{}
	var err error
	if s.BlockchainVersion, err = r.GetU16(); err != nil {
		return nil, fmt.Errorf("types: decode snapshot version: %w", err)
	}
	if s.BlockHeight, err = r.GetU64(); err != nil {
		return nil, fmt.Errorf("types: decode snapshot height: %w", err)
	}
	if s.RolloverFees, err = r.GetU8(); err != nil {
		return nil, fmt.Errorf("types: decode snapshot rollover_fees: %w", err)
	}
	n, err := r.GetU32()
	if err != nil {
		return nil, fmt.Errorf("types: decode snapshot prev_signers_count: %w", err)
	}
	s.PreviousSigners = make([]Identifier, n)
	for i := range s.PreviousSigners {
		if s.PreviousSigners[i], err = r.GetIdentifier(); err != nil {
			return nil, fmt.Errorf("types: decode snapshot prev_signer: %w", err)
		}
	}
	n, err = r.GetU32()
	if err != nil {
		return nil, fmt.Errorf("types: decode snapshot items_count: %w", err)
	}
	s.Items = make([]BalanceItem, n)
	for i := range s.Items {
		if s.Items[i].Identifier, err = r.GetIdentifier(); err != nil {
			return nil, fmt.Errorf("types: decode snapshot item id: %w", err)
		}
		if s.Items[i].Balance, err = r.GetAmount(); err != nil {
			return nil, fmt.Errorf("types: decode snapshot item balance: %w", err)
		}
		if s.Items[i].BlocksUntilFee, err = r.GetU16(); err != nil {
			return nil, fmt.Errorf("types: decode snapshot item blocks_until_fee: %w", err)
		}
	}
	if s.BlockchainVersion >= 1 {
		if s.UnlockThreshold, err = r.GetAmount(); err != nil {
			return nil, fmt.Errorf("types: decode snapshot unlock_threshold: %w", err)
		}
		if s.UnlockTransferSum, err = r.GetAmount(); err != nil {
			return nil, fmt.Errorf("types: decode snapshot unlock_transfer_sum: %w", err)
		}
	}
	if s.BlockchainVersion >= 2 {
		if s.PendingCycleTxs, err = decodeTxList(r); err != nil {
			return nil, fmt.Errorf("types: decode snapshot pending_cycle_txs: %w", err)
		}
		if s.RecentlyApprovedCycleTxs, err = decodeTxList(r); err != nil {
			return nil, fmt.Errorf("types: decode snapshot recently_approved_cycle_txs: %w", err)
		}
	}
	return s, nil
}

func decodeTxList(r *Reader) ([]Transaction, error) {
	n, err := r.GetU32()
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, n)
	for i := uint32(0); i < n; i++ {
		blob, err := r.GetBlob()
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTransaction(blob)
		if err != nil {
			return nil, err
		}
		out[i] = *tx
	}
	return out, nil
}
