package block

import (
	"fmt"
)

// Builder accumulates vectors into the current block. Ids are assigned
// densely starting from the builder's start vector id.
type Builder struct {
	dim     int
	start   uint64
	vecs    []float32
	offsets []uint32
	info    []byte
}

// NewBuilder creates a builder for vectors of the given dimension whose first
// vector will receive startVectorID.
func NewBuilder(dim int, startVectorID uint64) *Builder {
	return &Builder{
		dim:     dim,
		start:   startVectorID,
		offsets: []uint32{0},
	}
}

// Add appends a vector with its info bytes and returns the id assigned.
func (b *Builder) Add(vec []float32, info []byte) uint64 {
	if len(vec) != b.dim {
		panic(fmt.Sprintf("vector dimension mismatch: expected %d, got %d", b.dim, len(vec)))
	}
	id := b.NextVectorID()
	b.vecs = append(b.vecs, vec...)
	b.info = append(b.info, info...)
	b.offsets = append(b.offsets, uint32(len(b.info)))
	return id
}

// Count returns the number of buffered vectors.
func (b *Builder) Count() int {
	return len(b.offsets) - 1
}

// StartVectorID returns the id of the first buffered vector.
func (b *Builder) StartVectorID() uint64 {
	return b.start
}

// NextVectorID returns the id the next Add will assign.
func (b *Builder) NextVectorID() uint64 {
	return b.start + uint64(b.Count())
}

// IsEmpty reports whether no vectors are buffered.
func (b *Builder) IsEmpty() bool {
	return b.Count() == 0
}

// EncodedSize returns the byte size the current buffer would encode to.
func (b *Builder) EncodedSize() int {
	return encodedSize(len(b.vecs), b.Count(), len(b.info))
}

// VecRef returns the buffered vector at the given local offset.
func (b *Builder) VecRef(offset int) []float32 {
	return b.vecs[offset*b.dim : (offset+1)*b.dim]
}

// Info returns the buffered info bytes at the given local offset.
func (b *Builder) Info(offset int) []byte {
	return b.info[b.offsets[offset]:b.offsets[offset+1]]
}

// Finish seals the buffered vectors into an immutable block and resets the
// builder to start at the next vector id. fileOffset is the byte position
// the block will occupy in its file, recorded in the returned meta.
// After Finish the sealed id range is no longer readable from the builder;
// ownership moves to the caller.
func (b *Builder) Finish(fileOffset uint64) (*Block, Meta) {
	blk := &Block{
		dim:     b.dim,
		vecs:    b.vecs,
		offsets: b.offsets,
		info:    b.info,
	}
	meta := Meta{
		StartVectorID: b.start,
		VectorCount:   uint32(b.Count()),
		Offset:        fileOffset,
		Size:          uint32(blk.EncodedSize()),
	}

	b.start += uint64(b.Count())
	b.vecs = nil
	b.offsets = []uint32{0}
	b.info = nil

	return blk, meta
}
