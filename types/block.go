package types

import "fmt"

// Block is one candidate or frozen block (3.3).
type Block struct {
	Version               uint16
	Height                uint64
	PreviousBlockHash     Hash
	StartTimestamp        Timestamp
	VerificationTimestamp Timestamp
	Transactions          []Transaction
	BalanceListHash       Hash
	SignerID              Identifier
	SignerSignature       Signature
}

// ExpectedStartTimestamp computes start_timestamp(h) = genesis_start + h*BLOCK_DURATION.
func ExpectedStartTimestamp(genesisStart Timestamp, height uint64) Timestamp {
	return genesisStart + Timestamp(height)*BlockDurationMillis
}

// SigningBody returns the canonical bytes of every field except the
// signature (3.3, 6.2): version ‖ height ‖ previous_block_hash ‖ start_ts ‖
// verification_ts ‖ txs_count ‖ txs… ‖ balance_list_hash ‖ signer_id.
func (b *Block) SigningBody() []byte {
	w := NewWriter()
	b.encodeUnsigned(w)
	return w.Bytes()
}

func (b *Block) encodeUnsigned(w *Writer) {
	w.PutU16(b.Version)
	w.PutU64(b.Height)
	w.PutHash(b.PreviousBlockHash)
	w.PutTimestamp(b.StartTimestamp)
	w.PutTimestamp(b.VerificationTimestamp)
	w.PutU32(uint32(len(b.Transactions)))
	for i := range b.Transactions {
		w.PutBlob(b.Transactions[i].Encode())
	}
	w.PutHash(b.BalanceListHash)
	w.PutIdentifier(b.SignerID)
}

// Encode produces the full transmission bytes, signature included.
func (b *Block) Encode() []byte {
	w := NewWriter()
	b.encodeUnsigned(w)
	w.PutSignature(b.SignerSignature)
	return w.Bytes()
}

// Hash is doubleSHA256(signer_signature): identity is the signature alone (3.3).
func (b *Block) Hash() Hash {
	return HashBytes(b.SignerSignature[:])
}

func DecodeBlock(buf []byte) (*Block, error) {
	r := NewReader(buf)
	b := &Block{}
	var err error
	if b.Version, err = r.GetU16(); err != nil {
		return nil, fmt.Errorf("types: decode block version: %w", err)
	}
	if b.Height, err = r.GetU64(); err != nil {
		return nil, fmt.Errorf("types: decode block height: %w", err)
	}
	if b.PreviousBlockHash, err = r.GetHash(); err != nil {
		return nil, fmt.Errorf("types: decode block previous_block_hash: %w", err)
	}
	if b.StartTimestamp, err = r.GetTimestamp(); err != nil {
		return nil, fmt.Errorf("types: decode block start_ts: %w", err)
	}
	if b.VerificationTimestamp, err = r.GetTimestamp(); err != nil {
		return nil, fmt.Errorf("types: decode block verification_ts: %w", err)
	}
	if b.Transactions, err = decodeTxList(r); err != nil {
		return nil, fmt.Errorf("types: decode block txs: %w", err)
	}
	if b.BalanceListHash, err = r.GetHash(); err != nil {
		return nil, fmt.Errorf("types: decode block balance_list_hash: %w", err)
	}
	if b.SignerID, err = r.GetIdentifier(); err != nil {
		return nil, fmt.Errorf("types: decode block signer_id: %w", err)
	}
	if r.Remaining() > 0 {
		if b.SignerSignature, err = r.GetSignature(); err != nil {
			return nil, fmt.Errorf("types: decode block signer_signature: %w", err)
		}
	}
	return b, nil
}
