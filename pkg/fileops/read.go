package fileops

import (
	"fmt"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/manifest"
)

// ChunkLoader returns the raw data stored for a chunk ID
type ChunkLoader func(chunk.Chunk) ([]byte, error)

// ClipRead returns the number of bytes actually readable at offset
func ClipRead(m *manifest.LocalFile, size, offset uint64) uint64 {
	if offset >= m.Size {
		return 0
	}
	if size > m.Size-offset {
		return m.Size - offset
	}
	return size
}

// PrepareRead returns the ordered chunks to read for [offset, offset+size),
// clipped to the file size. Regions covered by no chunk read as zeros.
func PrepareRead(m *manifest.LocalFile, size, offset uint64) []chunk.Chunk {
	size = ClipRead(m, size, offset)
	if size == 0 {
		return nil
	}

	stop := offset + size
	var result []chunk.Chunk
	for slot := offset / m.Blocksize; slot*m.Blocksize < stop && slot < uint64(len(m.Blocks)); slot++ {
		start := max64(offset, slot*m.Blocksize)
		end := min64(stop, (slot+1)*m.Blocksize)
		result = append(result, blockRead(m.Blocks[slot], start, end)...)
	}
	return result
}

func blockRead(chunks []chunk.Chunk, start, stop uint64) []chunk.Chunk {
	lo := chunk.IndexBefore(chunks, start)
	hi := chunk.IndexAfter(chunks, stop)

	result := make([]chunk.Chunk, 0, hi-lo)
	for _, c := range chunks[lo:hi] {
		s, e := max64(c.Start, start), min64(c.Stop, stop)
		if s >= e {
			continue
		}
		result = append(result, c.Evolve(s, e))
	}
	return result
}

// BuildData assembles the bytes of [offset, offset+size) from the chunks
// returned by PrepareRead. Gaps are zero-filled.
func BuildData(offset, size uint64, chunks []chunk.Chunk, load ChunkLoader) ([]byte, error) {
	out := make([]byte, size)
	for _, c := range chunks {
		if c.Start < offset || c.Stop > offset+size {
			return nil, fmt.Errorf("chunk %s [%d, %d) out of read range [%d, %d)", c.ID, c.Start, c.Stop, offset, offset+size)
		}
		data, err := load(c)
		if err != nil {
			return nil, err
		}
		piece := chunk.Padded(data, int64(c.Start-c.RawOffset), int64(c.Stop-c.RawOffset))
		copy(out[c.Start-offset:], piece)
	}
	return out, nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
