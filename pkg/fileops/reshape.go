package fileops

import (
	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/manifest"
)

// ReshapeOp describes the compaction of one slot into a single block.
//
// The caller builds the data of the slot window from Source, promotes
// Destination with EvolveAsBlock, writes it to the chunk storage when
// WriteBack is set, applies it to the Reshaper, then evicts Removed.
type ReshapeOp struct {
	Slot        int
	Start       uint64
	Size        uint64
	Source      []chunk.Chunk
	Destination chunk.Chunk
	WriteBack   bool
	Removed     map[chunk.ID]struct{}
}

// Reshaper accumulates the reshaped slots of a manifest
type Reshaper struct {
	current    *manifest.LocalFile
	operations []ReshapeOp
}

// PrepareReshape lists the slots which are not yet a single aligned block
func PrepareReshape(m *manifest.LocalFile) *Reshaper {
	r := &Reshaper{current: m}
	for slot, chunks := range m.Blocks {
		if len(chunks) == 1 && chunks[0].IsBlock() {
			continue
		}

		start := uint64(slot) * m.Blocksize
		stop := min64(start+m.Blocksize, m.Size)
		op := ReshapeOp{
			Slot:    slot,
			Start:   start,
			Size:    stop - start,
			Source:  chunks,
			Removed: chunk.IDs(chunks),
		}

		if len(chunks) == 1 && chunks[0].IsPseudoBlock() && chunks[0].Start == start && chunks[0].Stop == stop {
			op.Destination = chunks[0]
			delete(op.Removed, chunks[0].ID)
		} else {
			op.Destination = chunk.New(start, stop)
			op.WriteBack = true
		}
		r.operations = append(r.operations, op)
	}
	return r
}

// Operations lists the slots to reshape
func (r *Reshaper) Operations() []ReshapeOp {
	return r.operations
}

// Apply sets the promoted destination of a slot and returns the updated manifest
func (r *Reshaper) Apply(slot int, c chunk.Chunk) *manifest.LocalFile {
	blocks := append(make([][]chunk.Chunk, 0, len(r.current.Blocks)), r.current.Blocks...)
	blocks[slot] = []chunk.Chunk{c}
	r.current = r.current.EvolveBlocks(blocks)
	return r.current
}

// Manifest returns the manifest with every slot applied so far
func (r *Reshaper) Manifest() *manifest.LocalFile {
	return r.current
}
