package crypto

import (
	"encoding/hex"
	"fmt"

	blake2b "github.com/minio/blake2b-simd"
)

const (
	// DigestSize for blake2b algo
	DigestSize = blake2b.Size

	// DigestSizeHex for hex representation of a digest
	DigestSizeHex = 2 * DigestSize
)

// Digest is the blake2b hash of some content
type Digest [DigestSize]byte

// DigestFromData computes the digest of a data buffer
func DigestFromData(data []byte) Digest {
	return Digest(blake2b.Sum512(data))
}

// NewDigest creates a new digest from raw bytes
func NewDigest(data []byte) (Digest, error) {
	var d Digest
	n := copy(d[:], data)
	if n != DigestSize || len(data) != DigestSize {
		return Digest{}, &BadDigestSize{Digest: data}
	}
	return d, nil
}

// DigestFromString parses the hex representation of a digest
func DigestFromString(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, err
	}
	return NewDigest(b)
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero tells if this digest has never been computed
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText renders the digest as hex
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses an hex digest
func (d *Digest) UnmarshalText(b []byte) error {
	v, err := DigestFromString(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// BadDigestSize is an error that's returned when the digest to create has an invalid size.
type BadDigestSize struct {
	Digest []byte
}

func (b *BadDigestSize) Error() string {
	return fmt.Sprintf("%x has invalid size of %d, expected %d", b.Digest, len(b.Digest), DigestSize)
}
