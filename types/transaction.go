package types

import (
	"crypto/sha256"
	"fmt"
)

// TxType enumerates the transaction kinds from 3.1.
type TxType uint8

const (
	TxCoinGeneration TxType = 0
	TxSeed           TxType = 1
	TxStandard       TxType = 2
	TxCycle          TxType = 3
	TxCycleSignature TxType = 4
)

func (t TxType) String() string {
	switch t {
	case TxCoinGeneration:
		return "CoinGeneration"
	case TxSeed:
		return "Seed"
	case TxStandard:
		return "Standard"
	case TxCycle:
		return "Cycle"
	case TxCycleSignature:
		return "CycleSignature"
	default:
		return fmt.Sprintf("TxType(%d)", uint8(t))
	}
}

const maxSenderDataLen = 32

// Transaction is a value-bearing record (3.1).
type Transaction struct {
	Type               TxType
	Timestamp          Timestamp
	Amount             Amount
	ReceiverID         Identifier
	SenderID           Identifier // zero for CoinGeneration
	SenderData         []byte     // 0..32 bytes, opaque memo
	PreviousHashHeight uint64
	PreviousBlockHash  Hash
	Signature          Signature // zero for CoinGeneration

	// CycleSignatures carries the per-voter signature map for Cycle and
	// CycleSignature transactions (execution version >= 2). Keys are voter
	// identifiers, values their signature over this transaction's signing
	// body.
	CycleSignatures map[Identifier]Signature
}

// Fee computes the transaction fee per 4.2/3.1. Cycle-typed fees are a
// fixed schedule rather than amount-proportional, since cycle transactions
// move no value between ordinary accounts.
func (t *Transaction) Fee() Amount {
	switch t.Type {
	case TxCoinGeneration:
		return 0
	case TxCycle, TxCycleSignature:
		return 1
	default:
		fee := t.Amount / 400
		if fee < 1 {
			fee = 1
		}
		return fee
	}
}

// SigningBody returns the canonical bytes signed by the sender:
// type ‖ timestamp ‖ amount ‖ receiver_id ‖ previous_block_hash ‖ sender_id ‖ sha256(sender_data).
func (t *Transaction) SigningBody() []byte {
	w := NewWriter()
	w.PutU8(uint8(t.Type))
	w.PutTimestamp(t.Timestamp)
	w.PutAmount(t.Amount)
	w.PutIdentifier(t.ReceiverID)
	w.PutHash(t.PreviousBlockHash)
	w.PutIdentifier(t.SenderID)
	senderDataHash := sha256.Sum256(t.SenderData)
	w.PutRaw(senderDataHash[:])
	return w.Bytes()
}

// Hash identifies a transaction for dedup/lookup purposes. Not specified as
// a wire value by 3.1; derived locally as hash(encode(tx)).
func (t *Transaction) Hash() Hash {
	return HashBytes(t.Encode())
}

// Encode produces the full wire representation, including the signature
// and cycle-signature map when present.
func (t *Transaction) Encode() []byte {
	w := NewWriter()
	w.PutU8(uint8(t.Type))
	w.PutTimestamp(t.Timestamp)
	w.PutAmount(t.Amount)
	w.PutIdentifier(t.ReceiverID)
	w.PutIdentifier(t.SenderID)
	w.PutBlob(t.SenderData)
	w.PutU64(t.PreviousHashHeight)
	w.PutHash(t.PreviousBlockHash)
	w.PutSignature(t.Signature)
	w.PutU32(uint32(len(t.CycleSignatures)))
	for _, id := range sortedIdentifiers(t.CycleSignatures) {
		w.PutIdentifier(id)
		w.PutSignature(t.CycleSignatures[id])
	}
	return w.Bytes()
}

func DecodeTransaction(b []byte) (*Transaction, error) {
	r := NewReader(b)
	t := &Transaction{}
	typ, err := r.GetU8()
	if err != nil {
		return nil, fmt.Errorf("types: decode tx type: %w", err)
	}
	t.Type = TxType(typ)
	if t.Timestamp, err = r.GetTimestamp(); err != nil {
		return nil, fmt.Errorf("types: decode tx timestamp: %w", err)
	}
	if t.Amount, err = r.GetAmount(); err != nil {
		return nil, fmt.Errorf("types: decode tx amount: %w", err)
	}
	if t.ReceiverID, err = r.GetIdentifier(); err != nil {
		return nil, fmt.Errorf("types: decode tx receiver: %w", err)
	}
	if t.SenderID, err = r.GetIdentifier(); err != nil {
		return nil, fmt.Errorf("types: decode tx sender: %w", err)
	}
	if t.SenderData, err = r.GetBlob(); err != nil {
		return nil, fmt.Errorf("types: decode tx sender_data: %w", err)
	}
	if len(t.SenderData) > maxSenderDataLen {
		return nil, fmt.Errorf("types: sender_data too long: %d", len(t.SenderData))
	}
	if t.PreviousHashHeight, err = r.GetU64(); err != nil {
		return nil, fmt.Errorf("types: decode tx previous_hash_height: %w", err)
	}
	if t.PreviousBlockHash, err = r.GetHash(); err != nil {
		return nil, fmt.Errorf("types: decode tx previous_block_hash: %w", err)
	}
	if t.Signature, err = r.GetSignature(); err != nil {
		return nil, fmt.Errorf("types: decode tx signature: %w", err)
	}
	n, err := r.GetU32()
	if err != nil {
		return nil, fmt.Errorf("types: decode tx cycle sig count: %w", err)
	}
	if n > 0 {
		t.CycleSignatures = make(map[Identifier]Signature, n)
		for i := uint32(0); i < n; i++ {
			id, err := r.GetIdentifier()
			if err != nil {
				return nil, fmt.Errorf("types: decode cycle sig id: %w", err)
			}
			sig, err := r.GetSignature()
			if err != nil {
				return nil, fmt.Errorf("types: decode cycle sig: %w", err)
			}
			t.CycleSignatures[id] = sig
		}
	}
	return t, nil
}

func sortedIdentifiers(m map[Identifier]Signature) []Identifier {
	ids := make([]Identifier, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j].Less(ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}
