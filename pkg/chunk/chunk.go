package chunk

import (
	"fmt"
	"sort"

	"github.com/oneconcern/vaultsync/pkg/crypto"
	"github.com/segmentio/ksuid"
)

// ID identifies the raw data of a chunk in local storage.
//
// A block reuses the ID of the chunk it was promoted from.
type ID string

// NewID generates a new unique chunk ID
func NewID() ID {
	return ID(ksuid.New().String())
}

func (i ID) String() string {
	return string(i)
}

// Access references an immutable block in the content-addressed store
type Access struct {
	ID     ID               `json:"id"`
	Key    crypto.SecretKey `json:"key"`
	Offset uint64           `json:"offset"`
	Size   uint64           `json:"size"`
	Digest crypto.Digest    `json:"digest"`
}

// Chunk is a span of file content
type Chunk struct {
	ID        ID      `json:"id"`
	Start     uint64  `json:"start"`
	Stop      uint64  `json:"stop"`
	RawOffset uint64  `json:"raw_offset"`
	RawSize   uint64  `json:"raw_size"`
	Access    *Access `json:"access,omitempty"`
}

// New creates a pending chunk spanning exactly [start, stop)
func New(start, stop uint64) Chunk {
	if start >= stop {
		panic(fmt.Sprintf("invalid chunk span [%d, %d)", start, stop))
	}
	return Chunk{
		ID:        NewID(),
		Start:     start,
		Stop:      stop,
		RawOffset: start,
		RawSize:   stop - start,
	}
}

// FromAccess creates the block chunk corresponding to a block access
func FromAccess(a Access) Chunk {
	access := a
	return Chunk{
		ID:        a.ID,
		Start:     a.Offset,
		Stop:      a.Offset + a.Size,
		RawOffset: a.Offset,
		RawSize:   a.Size,
		Access:    &access,
	}
}

// Size of the visible span
func (c Chunk) Size() uint64 {
	return c.Stop - c.Start
}

// RawStop is the end of the raw span
func (c Chunk) RawStop() uint64 {
	return c.RawOffset + c.RawSize
}

// IsPseudoBlock tells if the chunk covers exactly its raw span
func (c Chunk) IsPseudoBlock() bool {
	return c.Start == c.RawOffset && c.Stop == c.RawStop()
}

// IsBlock tells if the chunk exactly mirrors an immutable block
func (c Chunk) IsBlock() bool {
	if !c.IsPseudoBlock() || c.Access == nil {
		return false
	}
	return c.Access.Offset == c.Start && c.Access.Size == c.Stop-c.Start
}

// EvolveAsBlock promotes the chunk to a block holding data.
//
// This is a no-op on blocks. The chunk must be aligned on its raw offset.
func (c Chunk) EvolveAsBlock(data []byte) Chunk {
	if c.IsBlock() {
		return c
	}
	if c.RawOffset != c.Start {
		panic(fmt.Sprintf("chunk %s is not aligned: start %d, raw offset %d", c.ID, c.Start, c.RawOffset))
	}
	access := &Access{
		ID:     c.ID,
		Key:    crypto.MustGenerateSecretKey(),
		Offset: c.Start,
		Size:   c.Stop - c.Start,
		Digest: crypto.DigestFromData(data),
	}
	c.Access = access
	return c
}

// BlockAccess returns the access of a block chunk
func (c Chunk) BlockAccess() (Access, bool) {
	if !c.IsBlock() {
		return Access{}, false
	}
	return *c.Access, true
}

// Evolve returns a chunk restricted to [start, stop), keeping its raw reference.
//
// The restricted span must remain within the raw span.
func (c Chunk) Evolve(start, stop uint64) Chunk {
	if start < c.RawOffset || stop > c.RawStop() || start >= stop {
		panic(fmt.Sprintf("cannot evolve chunk %s [%d, %d) raw [%d, %d) into [%d, %d)",
			c.ID, c.Start, c.Stop, c.RawOffset, c.RawStop(), start, stop))
	}
	c.Start = start
	c.Stop = stop
	return c
}

// Validate checks the chunk invariant raw_offset <= start < stop <= raw_offset + raw_size
func (c Chunk) Validate() error {
	if c.RawOffset > c.Start || c.Start >= c.Stop || c.Stop > c.RawStop() {
		return fmt.Errorf("invalid chunk %s: [%d, %d) raw [%d, %d)", c.ID, c.Start, c.Stop, c.RawOffset, c.RawStop())
	}
	return nil
}

// Compare orders a chunk with respect to an offset, based on its start
func (c Chunk) Compare(x uint64) int {
	switch {
	case c.Start < x:
		return -1
	case c.Start > x:
		return 1
	default:
		return 0
	}
}

// Equal compares two chunks, including their block access
func (c Chunk) Equal(o Chunk) bool {
	if c.ID != o.ID || c.Start != o.Start || c.Stop != o.Stop || c.RawOffset != o.RawOffset || c.RawSize != o.RawSize {
		return false
	}
	if c.Access == nil || o.Access == nil {
		return c.Access == nil && o.Access == nil
	}
	return *c.Access == *o.Access
}

func (c Chunk) String() string {
	kind := "pending"
	if c.IsBlock() {
		kind = "block"
	}
	return fmt.Sprintf("Chunk{%s %s [%d, %d) raw [%d, %d)}", kind, c.ID, c.Start, c.Stop, c.RawOffset, c.RawStop())
}

// IndexBefore returns the index of the last chunk starting at or before x
// (bisect right, minus one), or 0 when none does.
func IndexBefore(chunks []Chunk, x uint64) int {
	i := sort.Search(len(chunks), func(i int) bool { return chunks[i].Compare(x) > 0 })
	if i == 0 {
		return 0
	}
	return i - 1
}

// IndexAfter returns the index of the first chunk starting at or after x (bisect left)
func IndexAfter(chunks []Chunk, x uint64) int {
	return sort.Search(len(chunks), func(i int) bool { return chunks[i].Compare(x) >= 0 })
}

// IDs returns the set of chunk IDs referenced by some slots
func IDs(slots ...[]Chunk) map[ID]struct{} {
	ids := make(map[ID]struct{})
	for _, chunks := range slots {
		for _, c := range chunks {
			ids[c.ID] = struct{}{}
		}
	}
	return ids
}

// Padded extracts data[start:stop], zero-padding whatever lies outside data.
//
// A negative start pads the front.
func Padded(data []byte, start, stop int64) []byte {
	if stop <= start {
		return []byte{}
	}
	if start >= 0 && stop <= int64(len(data)) {
		return data[start:stop]
	}
	out := make([]byte, stop-start)
	from := start
	if from < 0 {
		from = 0
	}
	to := stop
	if to > int64(len(data)) {
		to = int64(len(data))
	}
	if from < to {
		copy(out[from-start:], data[from:to])
	}
	return out
}
