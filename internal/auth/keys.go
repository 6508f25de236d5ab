// Package auth implements the keeper's local authorization checks:
// conditional-order signature verification and keeper-signed price
// attestations. Addresses are base58-encoded ed25519 public keys.
package auth

import (
	"crypto/ed25519"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// DecodeAddress decodes a base58 address into an ed25519 public key,
// rejecting byte strings that are not valid curve points.
func DecodeAddress(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("address %q: expected %d bytes, got %d", address, ed25519.PublicKeySize, len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("address %q is not a valid curve point: %w", address, err)
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeAddress encodes an ed25519 public key as a base58 address.
func EncodeAddress(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}
