package fileops

import (
	"time"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/manifest"
)

// WriteOp is a physical write to perform against the chunk storage.
//
// The chunk content starts at Offset in the written buffer. A negative offset
// stands for leading zero padding, e.g. when writing past the end of file.
type WriteOp struct {
	Chunk  chunk.Chunk
	Offset int64
}

// Data extracts the content of the chunk from the written buffer
func (w WriteOp) Data(buffer []byte) []byte {
	return chunk.Padded(buffer, w.Offset, w.Offset+int64(w.Chunk.Size()))
}

// PrepareWrite inserts a write of length bytes at offset.
//
// It returns the new manifest, the chunks to write and the chunk IDs no longer
// referenced by the manifest. A zero-length write is a no-op.
func PrepareWrite(m *manifest.LocalFile, length, offset uint64, ts time.Time) (*manifest.LocalFile, []WriteOp, map[chunk.ID]struct{}) {
	if length == 0 {
		return m, nil, map[chunk.ID]struct{}{}
	}
	return prepareWrite(m, length, offset, ts)
}

func prepareWrite(m *manifest.LocalFile, size, offset uint64, ts time.Time) (*manifest.LocalFile, []WriteOp, map[chunk.ID]struct{}) {
	var padding uint64
	if offset > m.Size {
		padding = offset - m.Size
		size += padding
		offset = m.Size
	}

	blocks := append(make([][]chunk.Chunk, 0, len(m.Blocks)+1), m.Blocks...)
	removed := make(map[chunk.ID]struct{})
	var ops []WriteOp

	stop := offset + size
	for slot := offset / m.Blocksize; slot*m.Blocksize < stop; slot++ {
		start := max64(offset, slot*m.Blocksize)
		end := min64(stop, (slot+1)*m.Blocksize)
		c := chunk.New(start, end)
		ops = append(ops, WriteOp{Chunk: c, Offset: int64(start-offset) - int64(padding)})

		if slot == uint64(len(blocks)) {
			blocks = append(blocks, []chunk.Chunk{c})
			continue
		}
		chunks, dropped := blockWrite(blocks[slot], start, end, c)
		blocks[slot] = chunks
		for id := range dropped {
			removed[id] = struct{}{}
		}
	}

	return m.EvolveAndMarkUpdated(max64(m.Size, stop), blocks, ts), ops, removed
}

// blockWrite inserts a new chunk covering [start, stop) in a slot,
// truncating or splitting the chunks it overlaps.
func blockWrite(chunks []chunk.Chunk, start, stop uint64, inserted chunk.Chunk) ([]chunk.Chunk, map[chunk.ID]struct{}) {
	lo := chunk.IndexBefore(chunks, start)
	hi := chunk.IndexAfter(chunks, stop)

	result := make([]chunk.Chunk, 0, len(chunks)+2)
	result = append(result, chunks[:lo]...)

	var dropped []chunk.ID
	done := false
	for _, c := range chunks[lo:hi] {
		if c.Stop <= start {
			result = append(result, c)
			continue
		}
		if c.Start < start {
			result = append(result, c.Evolve(c.Start, start))
		}
		if !done {
			result = append(result, inserted)
			done = true
		}
		if c.Stop > stop {
			result = append(result, c.Evolve(stop, c.Stop))
		}
		if c.Start >= start && c.Stop <= stop {
			dropped = append(dropped, c.ID)
		}
	}
	if !done {
		result = append(result, inserted)
	}
	result = append(result, chunks[hi:]...)

	kept := chunk.IDs(result)
	removed := make(map[chunk.ID]struct{}, len(dropped))
	for _, id := range dropped {
		if _, ok := kept[id]; !ok {
			removed[id] = struct{}{}
		}
	}
	return result, removed
}
