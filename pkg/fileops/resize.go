package fileops

import (
	"time"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/manifest"
)

// PrepareResize truncates or extends a file.
//
// Growing writes zero-filled chunks from the old size to the new one: the write
// operations must be performed with an empty buffer. Resizing to the current
// size is a no-op which leaves the sync state untouched.
func PrepareResize(m *manifest.LocalFile, size uint64, ts time.Time) (*manifest.LocalFile, []WriteOp, map[chunk.ID]struct{}) {
	switch {
	case size == m.Size:
		return m, nil, map[chunk.ID]struct{}{}
	case size > m.Size:
		return prepareWrite(m, 0, size, ts)
	default:
		return prepareTruncate(m, size, ts)
	}
}

func prepareTruncate(m *manifest.LocalFile, size uint64, ts time.Time) (*manifest.LocalFile, []WriteOp, map[chunk.ID]struct{}) {
	slot := size / m.Blocksize
	remainder := size % m.Blocksize

	removed := chunk.IDs(m.Blocks[slot:]...)
	blocks := append(make([][]chunk.Chunk, 0, slot+1), m.Blocks[:slot]...)

	var ops []WriteOp
	if remainder > 0 {
		chunks := m.Blocks[slot]
		stop := chunk.IndexAfter(chunks, size)
		kept := append(make([]chunk.Chunk, 0, stop), chunks[:stop]...)
		if len(kept) == 0 {
			c := chunk.New(slot*m.Blocksize, size)
			ops = append(ops, WriteOp{Chunk: c, Offset: -int64(c.Size())})
			kept = append(kept, c)
		}
		if last := kept[len(kept)-1]; last.Stop > size {
			kept[len(kept)-1] = last.Evolve(last.Start, size)
		}
		for id := range chunk.IDs(kept) {
			delete(removed, id)
		}
		blocks = append(blocks, kept)
	}

	return m.EvolveAndMarkUpdated(size, blocks, ts), ops, removed
}
