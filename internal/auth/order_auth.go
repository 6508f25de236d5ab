package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
)

// Signer identifies which key authorized an order.
type Signer int

const (
	SignerNone Signer = iota
	SignerTrader
	SignerSessionKey
)

func (s Signer) String() string {
	switch s {
	case SignerTrader:
		return "trader"
	case SignerSessionKey:
		return "session_key"
	default:
		return "none"
	}
}

const orderAuthDomain = "tethra:conditional-order:v1"

// OrderAuthDigest computes the message hash a trader signs to authorize a
// conditional order. The digest binds every execution-relevant field plus
// the trader's replay-protection counter; any change invalidates the
// signature.
func OrderAuthDigest(o *domain.ConditionalOrder) [32]byte {
	h := sha256.New()
	h.Write([]byte(orderAuthDomain))
	h.Write([]byte(o.Trader))
	h.Write([]byte(o.Symbol))
	if o.IsLong {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(o.Collateral.String()))
	h.Write(u32le(o.Leverage))
	h.Write([]byte(o.TriggerPrice.String()))
	h.Write(u64le(uint64(o.StartTime)))
	h.Write(u64le(uint64(o.EndTime)))
	h.Write(u64le(o.AuthNonce))

	var digest [32]byte
	h.Sum(digest[:0])
	return digest
}

// VerifyOrderSignature checks the order's recorded signature against the
// recomputed authorization digest. It accepts a signature from either the
// trader's key or, if the order carries one, the session key. This is a
// local pre-flight: a mismatch here means the submission would be rejected
// on-chain, so no sequence value should be spent on it.
func VerifyOrderSignature(o *domain.ConditionalOrder) (Signer, error) {
	if len(o.Signature) != ed25519.SignatureSize {
		return SignerNone, fmt.Errorf("signature: expected %d bytes, got %d", ed25519.SignatureSize, len(o.Signature))
	}

	digest := OrderAuthDigest(o)

	traderKey, err := DecodeAddress(o.Trader)
	if err != nil {
		return SignerNone, fmt.Errorf("trader key: %w", err)
	}
	if ed25519.Verify(traderKey, digest[:], o.Signature) {
		return SignerTrader, nil
	}

	if o.UsesSessionKey() {
		sessionKey, err := DecodeAddress(o.SessionKey)
		if err != nil {
			return SignerNone, fmt.Errorf("session key: %w", err)
		}
		if ed25519.Verify(sessionKey, digest[:], o.Signature) {
			return SignerSessionKey, nil
		}
		return SignerNone, fmt.Errorf("signature verifies against neither trader %s nor session key %s", o.Trader, o.SessionKey)
	}

	return SignerNone, fmt.Errorf("signature does not verify against trader %s", o.Trader)
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
