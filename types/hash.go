package types

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a 32-byte double-SHA-256 digest.
type Hash = chainhash.Hash

// ZeroHash is the all-zero hash used as the previous-block-hash of Genesis.
var ZeroHash Hash

// HashBytes returns hash(x) = sha256(sha256(x)) for arbitrary bytes.
func HashBytes(b []byte) Hash {
	return chainhash.DoubleHashH(b)
}

// HashUint64 is a small helper used when a height or count needs hashing
// on its own, e.g. for derived cache keys.
func HashUint64(v uint64) Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return HashBytes(buf[:])
}
