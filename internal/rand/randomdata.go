// Package rand generates random test data.
//
// A Generator is seeded explicitly, so that a failing sequence of operations
// can be replayed.
package rand

import (
	"bytes"
	"math/rand"
	"sync"
)

// Generator produces reproducible random data. It is safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	rgen *rand.Rand
}

// New generator from a seed
func New(seed int64) *Generator {
	return &Generator{rgen: rand.New(rand.NewSource(seed))} // #nosec
}

// Intn returns a random int in [0, n)
func (g *Generator) Intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rgen.Intn(n)
}

// Uint64n returns a random uint64 in [0, n)
func (g *Generator) Uint64n(n int) uint64 {
	return uint64(g.Intn(n))
}

// Bytes returns a random slice of bytes
func (g *Generator) Bytes(n int) []byte {
	buf := make([]byte, n)
	g.mu.Lock()
	_, _ = g.rgen.Read(buf)
	g.mu.Unlock()
	return buf
}

var (
	onceLetters sync.Once
	letters     []byte
)

func makeLetters() {
	// adds "a" to pad over 256 locations (0-9 U a-z makes up to 252 only and we want to cover the range of uint8)
	// so "a" is slightly more frequent than other signs
	letters = bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz0123456789a"), 7)
}

// LetterBytes returns a random slice of bytes picked in the [0-9]|[a-z] range
func (g *Generator) LetterBytes(n int) []byte {
	onceLetters.Do(makeLetters)
	buf := g.Bytes(n)
	for i, b := range buf {
		buf[i] = letters[b]
	}
	return buf
}

// LetterString returns a random string picked in the [0-9]|[a-z] range
func (g *Generator) LetterString(n int) string {
	return string(g.LetterBytes(n))
}
