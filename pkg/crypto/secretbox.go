package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/oneconcern/vaultsync/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// SecretKeySize is the size of a symmetric key
	SecretKeySize = 32

	nonceSize = 24
)

var (
	// ErrDecryption indicates a ciphered payload could not be authenticated
	ErrDecryption = errors.New("decryption failed")

	// ErrRandom indicates the random generator failed
	ErrRandom = errors.New("random generator failure")
)

// SecretKey is a symmetric authenticate-and-encrypt key
type SecretKey [SecretKeySize]byte

// GenerateSecretKey draws a new random key
func GenerateSecretKey() (SecretKey, error) {
	var k SecretKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return SecretKey{}, ErrRandom.Wrap(err)
	}
	return k, nil
}

// MustGenerateSecretKey draws a new random key or panics
func MustGenerateSecretKey() SecretKey {
	k, err := GenerateSecretKey()
	if err != nil {
		panic(err)
	}
	return k
}

// Encrypt seals a payload. The random nonce is prepended to the ciphered output.
func (k SecretKey) Encrypt(data []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, ErrRandom.Wrap(err)
	}
	key := [SecretKeySize]byte(k)
	out := make([]byte, nonceSize, nonceSize+len(data)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, data, &nonce, &key), nil
}

// Decrypt opens a payload sealed with Encrypt
func (k SecretKey) Decrypt(ciphered []byte) ([]byte, error) {
	if len(ciphered) < nonceSize+secretbox.Overhead {
		return nil, ErrDecryption.WrapMessage("ciphered payload too short: %d bytes", len(ciphered))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphered[:nonceSize])
	key := [SecretKeySize]byte(k)
	data, ok := secretbox.Open(nil, ciphered[nonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrDecryption
	}
	return data, nil
}

// MarshalText renders the key as hex
func (k SecretKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(k[:])), nil
}

// UnmarshalText parses an hex key
func (k *SecretKey) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != SecretKeySize {
		return ErrDecryption.WrapMessage("invalid secret key size %d", len(raw))
	}
	copy(k[:], raw)
	return nil
}
