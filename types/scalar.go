package types

import "encoding/hex"

// Identifier is the 32-byte x-only public key identifying a signer.
type Identifier [32]byte

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// Less gives Identifier a total order for sorted-map invariants.
func (id Identifier) Less(other Identifier) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Signature is a fixed-width 64-byte BIP-340-style Schnorr signature.
type Signature [64]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

// Amount is a signed micro-unit quantity. 1_000_000 micro-units = 1 unit.
type Amount int64

const MicroUnitsPerUnit Amount = 1_000_000

// Timestamp is signed milliseconds since the Unix epoch.
type Timestamp int64

func (t Timestamp) Before(other Timestamp) bool { return t < other }
func (t Timestamp) After(other Timestamp) bool  { return t > other }
