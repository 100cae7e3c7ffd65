package chunk

import (
	"testing"

	"github.com/oneconcern/vaultsync/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c := New(10, 20)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, uint64(10), c.RawOffset)
	assert.Equal(t, uint64(10), c.RawSize)
	assert.True(t, c.IsPseudoBlock())
	assert.False(t, c.IsBlock())
	require.NoError(t, c.Validate())

	assert.NotEqual(t, c.ID, New(10, 20).ID)
	assert.Panics(t, func() { New(20, 20) })
}

func TestEvolveAsBlock(t *testing.T) {
	data := []byte("0123456789")
	c := New(10, 20)
	b := c.EvolveAsBlock(data)

	require.True(t, b.IsBlock())
	assert.Equal(t, c.ID, b.ID)
	assert.Equal(t, c.ID, b.Access.ID)
	assert.Equal(t, uint64(10), b.Access.Offset)
	assert.Equal(t, uint64(10), b.Access.Size)
	assert.Equal(t, crypto.DigestFromData(data), b.Access.Digest)
	assert.Nil(t, c.Access, "promotion must not alter the original chunk")

	t.Run("no-op on a block", func(t *testing.T) {
		again := b.EvolveAsBlock([]byte("other data"))
		assert.True(t, again.Equal(b))
	})

	t.Run("right truncated chunk", func(t *testing.T) {
		left := c.Evolve(10, 15)
		promoted := left.EvolveAsBlock(data[:5])
		assert.False(t, promoted.IsBlock(), "a non pseudo-block cannot be a block")
		assert.NotNil(t, promoted.Access)
	})

	t.Run("not start-aligned", func(t *testing.T) {
		assert.Panics(t, func() { c.Evolve(12, 20).EvolveAsBlock(data[2:]) })
	})

	a, ok := b.BlockAccess()
	require.True(t, ok)
	assert.True(t, FromAccess(a).Equal(b))

	_, ok = c.BlockAccess()
	assert.False(t, ok)
}

func TestEvolve(t *testing.T) {
	c := New(0, 100)
	e := c.Evolve(10, 50)
	assert.Equal(t, uint64(10), e.Start)
	assert.Equal(t, uint64(50), e.Stop)
	assert.Equal(t, uint64(0), e.RawOffset)
	assert.Equal(t, uint64(100), e.RawSize)
	assert.False(t, e.IsPseudoBlock())
	require.NoError(t, e.Validate())

	assert.Panics(t, func() { e.Evolve(0, 101) })
	assert.Panics(t, func() { e.Evolve(30, 30) })

	bad := Chunk{ID: "x", Start: 5, Stop: 4, RawOffset: 0, RawSize: 10}
	require.Error(t, bad.Validate())
}

func TestBisect(t *testing.T) {
	chunks := []Chunk{New(0, 10), New(10, 15), New(15, 30)}

	for _, tc := range []struct {
		x      uint64
		before int
		after  int
	}{
		{x: 0, before: 0, after: 0},
		{x: 5, before: 0, after: 1},
		{x: 10, before: 1, after: 1},
		{x: 12, before: 1, after: 2},
		{x: 15, before: 2, after: 2},
		{x: 29, before: 2, after: 3},
		{x: 30, before: 2, after: 3},
	} {
		assert.Equalf(t, tc.before, IndexBefore(chunks, tc.x), "index before %d", tc.x)
		assert.Equalf(t, tc.after, IndexAfter(chunks, tc.x), "index after %d", tc.x)
	}

	assert.Equal(t, 0, IndexBefore(nil, 3))
	assert.Equal(t, 0, IndexAfter(nil, 3))
	assert.Equal(t, 0, chunks[1].Compare(10))
	assert.Equal(t, -1, chunks[1].Compare(11))
	assert.Equal(t, 1, chunks[1].Compare(9))
}

func TestIDs(t *testing.T) {
	a, b := New(0, 1), New(1, 2)
	ids := IDs([]Chunk{a, a.Evolve(0, 1)}, []Chunk{b})
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestPadded(t *testing.T) {
	data := []byte("abcdef")
	assert.Equal(t, []byte("bcd"), Padded(data, 1, 4))
	assert.Equal(t, []byte{0, 0, 'a', 'b'}, Padded(data, -2, 2))
	assert.Equal(t, []byte{'e', 'f', 0, 0}, Padded(data, 4, 8))
	assert.Equal(t, []byte{0, 0, 0}, Padded(data, -5, -2))
	assert.Equal(t, []byte{0, 0}, Padded(nil, 0, 2))
	assert.Empty(t, Padded(data, 3, 3))
}
