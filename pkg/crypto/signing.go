package crypto

import (
	"crypto/rand"

	"github.com/oneconcern/vaultsync/pkg/errors"
	"golang.org/x/crypto/ed25519"
)

// ErrSignature indicates a signed payload does not verify
var ErrSignature = errors.New("signature verification failed")

// SigningKey signs payloads on behalf of a device
type SigningKey struct {
	private ed25519.PrivateKey
}

// VerifyKey verifies payloads signed by a device
type VerifyKey []byte

// GenerateSigningKey draws a new device signing key
func GenerateSigningKey() (SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, ErrRandom.Wrap(err)
	}
	return SigningKey{private: priv}, nil
}

// MustGenerateSigningKey draws a new device signing key or panics
func MustGenerateSigningKey() SigningKey {
	k, err := GenerateSigningKey()
	if err != nil {
		panic(err)
	}
	return k
}

// VerifyKey returns the public counterpart of this key
func (k SigningKey) VerifyKey() VerifyKey {
	return VerifyKey(k.private.Public().(ed25519.PublicKey))
}

// Sign produces signature||payload
func (k SigningKey) Sign(payload []byte) []byte {
	sig := ed25519.Sign(k.private, payload)
	out := make([]byte, 0, len(sig)+len(payload))
	out = append(out, sig...)
	return append(out, payload...)
}

// Verify checks a signed payload produced by Sign and returns the payload
func (v VerifyKey) Verify(signed []byte) ([]byte, error) {
	if len(v) != ed25519.PublicKeySize {
		return nil, ErrSignature.WrapMessage("invalid verify key size %d", len(v))
	}
	if len(signed) < ed25519.SignatureSize {
		return nil, ErrSignature.WrapMessage("signed payload too short: %d bytes", len(signed))
	}
	sig, payload := signed[:ed25519.SignatureSize], signed[ed25519.SignatureSize:]
	if !ed25519.Verify(ed25519.PublicKey(v), payload, sig) {
		return nil, ErrSignature
	}
	return payload, nil
}
