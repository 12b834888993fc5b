// Package crypto implements the SignatureScheme capability spec.md treats
// as an external collaborator (C1): double-SHA-256 hashing lives in
// types.HashBytes, and sign/verify is implemented here over BIP-340-style
// Schnorr signatures on secp256k1, which gives the 32-byte Identifier and
// 64-byte Signature fixed widths the data model requires without any
// DER/ASN.1 framing.
package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nyzoverifier/types"
)

// SigningKey wraps a secp256k1 private key and exposes the 32-byte
// Identifier derived from its x-only public key.
type SigningKey struct {
	priv *btcec.PrivateKey
}

// GenerateSigningKey creates a fresh random key, grounded on the teacher's
// utils.GeneratePairKey pattern of wrapping btcec key generation.
func GenerateSigningKey() (*SigningKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &SigningKey{priv: priv}, nil
}

// SigningKeyFromBytes reconstructs a key from a raw 32-byte scalar.
func SigningKeyFromBytes(b []byte) (*SigningKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &SigningKey{priv: priv}, nil
}

// Identifier returns the 32-byte x-only public key this key signs for.
func (k *SigningKey) Identifier() types.Identifier {
	var id types.Identifier
	copy(id[:], schnorr.SerializePubKey(k.priv.PubKey()))
	return id
}

// SignatureScheme is the abstract capability spec.md's C1 names.
type SignatureScheme interface {
	Sign(key *SigningKey, body []byte) (types.Signature, error)
	Verify(sig types.Signature, body []byte, id types.Identifier) bool
}

// SchnorrScheme is the concrete secp256k1/Schnorr implementation wired for
// this verifier.
type SchnorrScheme struct{}

var _ SignatureScheme = SchnorrScheme{}

// Sign produces a signature over hash(body); schnorr.Sign requires a
// 32-byte message digest rather than an arbitrary-length body.
func (SchnorrScheme) Sign(key *SigningKey, body []byte) (types.Signature, error) {
	digest := types.HashBytes(body)
	sig, err := schnorr.Sign(key.priv, digest[:])
	if err != nil {
		return types.Signature{}, fmt.Errorf("crypto: sign: %w", err)
	}
	var out types.Signature
	copy(out[:], sig.Serialize())
	return out, nil
}

func (SchnorrScheme) Verify(sig types.Signature, body []byte, id types.Identifier) bool {
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	pub, err := schnorr.ParsePubKey(id[:])
	if err != nil {
		return false
	}
	digest := types.HashBytes(body)
	return parsed.Verify(digest[:], pub)
}

// rngReader is not read anywhere: GenerateSigningKey draws from
// btcec.NewPrivateKey's own crypto/rand source, so replacing this value
// does not change key generation.
var rngReader = rand.Reader
