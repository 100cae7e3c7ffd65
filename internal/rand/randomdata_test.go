package rand

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReproducible(t *testing.T) {
	a, b := New(42), New(42)
	assert.Equal(t, a.Bytes(64), b.Bytes(64))
	assert.Equal(t, a.Intn(1000), b.Intn(1000))
	assert.NotEqual(t, New(1).Bytes(64), New(2).Bytes(64))
}

func TestLetterString(t *testing.T) {
	name := New(7).LetterString(20)
	assert.Len(t, name, 20)
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]+$`), name)
}

func benchmarkLetterBytes(b *testing.B, size int) {
	g := New(1)
	for n := 0; n < b.N; n++ {
		_ = g.LetterBytes(size)
	}
}

func BenchmarkLetterBytes20(b *testing.B)   { benchmarkLetterBytes(b, 20) }
func BenchmarkLetterBytes1000(b *testing.B) { benchmarkLetterBytes(b, 1000) }
