package auth

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/shopspring/decimal"
)

const attestationDomain = "tethra:price-attestation:v1"

// AttestationSkew is subtracted from the local clock when building an
// attestation so that downstream clock drift never makes the attested
// timestamp appear to be from the future. Reference value 60s.
const AttestationSkew = 60_000 // ms

// PriceAttestation is a keeper-signed statement of the current price of a
// symbol, accepted by the downstream contract as authoritative.
type PriceAttestation struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp int64 // ms, skewed into the past by AttestationSkew
	Keeper    string
	Signature []byte
}

// Attestor signs price attestations with the keeper's own key.
type Attestor struct {
	priv    ed25519.PrivateKey
	address string
}

// NewAttestor creates an Attestor from the keeper's private key.
func NewAttestor(priv ed25519.PrivateKey) *Attestor {
	pub := priv.Public().(ed25519.PublicKey)
	return &Attestor{priv: priv, address: EncodeAddress(pub)}
}

// Address returns the keeper's base58 address.
func (a *Attestor) Address() string {
	return a.address
}

// Attest signs a price attestation for symbol at price. nowMs is the local
// clock; the attested timestamp is nowMs - AttestationSkew.
func (a *Attestor) Attest(symbol string, price decimal.Decimal, nowMs int64) *PriceAttestation {
	att := &PriceAttestation{
		Symbol:    symbol,
		Price:     price,
		Timestamp: nowMs - AttestationSkew,
		Keeper:    a.address,
	}
	att.Signature = ed25519.Sign(a.priv, attestationDigest(att))
	return att
}

// VerifyAttestation checks an attestation's signature against the keeper
// address it names.
func VerifyAttestation(att *PriceAttestation) bool {
	pub, err := DecodeAddress(att.Keeper)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, attestationDigest(att), att.Signature)
}

func attestationDigest(att *PriceAttestation) []byte {
	h := sha256.New()
	h.Write([]byte(attestationDomain))
	h.Write([]byte(att.Symbol))
	h.Write([]byte(att.Price.String()))
	h.Write(u64le(uint64(att.Timestamp)))
	h.Write([]byte(att.Keeper))
	return h.Sum(nil)
}
