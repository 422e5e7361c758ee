// Package block provides the immutable vector block, the smallest on-disk
// unit of the vector store, and its in-memory builder.
//
// Encoded layout, little-endian:
//
//	[f32 × (dim · count)] ‖ [info_offsets: u32 × (count+1)] ‖ [info_bytes]
//
// info_offsets are cumulative byte offsets into the info region
// (offsets[0] = 0, offsets[count] = total info bytes).
package block

import (
	"encoding/binary"
	"math"

	veldterrors "github.com/veldt-db/veldt/internal/errors"
)

// Meta describes one block inside a vector file.
type Meta struct {
	StartVectorID uint64
	VectorCount   uint32
	// Offset is the byte offset of the block within its file.
	Offset uint64
	// Size is the encoded byte size of the block.
	Size uint32
}

// NextVectorID returns the first vector id after this block.
func (m Meta) NextVectorID() uint64 {
	return m.StartVectorID + uint64(m.VectorCount)
}

// Block is an immutable packed run of vectors with their per-vector info.
type Block struct {
	dim     int
	vecs    []float32
	offsets []uint32
	info    []byte
}

// Count returns the number of vectors in the block.
func (b *Block) Count() int {
	return len(b.offsets) - 1
}

// VecRef returns the vector at the given offset within the block.
// The returned slice aliases the block and must not be mutated.
func (b *Block) VecRef(offset int) []float32 {
	return b.vecs[offset*b.dim : (offset+1)*b.dim]
}

// Info returns the info bytes of the vector at the given offset.
func (b *Block) Info(offset int) []byte {
	return b.info[b.offsets[offset]:b.offsets[offset+1]]
}

// EncodedSize returns the byte size of the encoded block.
func (b *Block) EncodedSize() int {
	return encodedSize(len(b.vecs), b.Count(), len(b.info))
}

func encodedSize(floatCount, vectorCount, infoBytes int) int {
	return 4*floatCount + 4*(vectorCount+1) + infoBytes
}

// Encode serializes the block into the on-disk layout.
func (b *Block) Encode() []byte {
	buf := make([]byte, 0, b.EncodedSize())
	for _, f := range b.vecs {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	for _, off := range b.offsets {
		buf = binary.LittleEndian.AppendUint32(buf, off)
	}
	buf = append(buf, b.info...)
	return buf
}

// Decode parses an encoded block. The dimension comes from the index config
// and the vector count from the block meta; neither is stored in the block.
func Decode(data []byte, dim int, count int) (*Block, error) {
	floatBytes := 4 * dim * count
	offsetBytes := 4 * (count + 1)
	if len(data) < floatBytes+offsetBytes {
		return nil, veldterrors.Corruption(veldterrors.ErrCodeBlockCorrupt,
			"block of %d bytes too short for %d vectors of dimension %d", len(data), count, dim)
	}

	vecs := make([]float32, dim*count)
	for i := range vecs {
		vecs[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}

	offsets := make([]uint32, count+1)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(data[floatBytes+4*i:])
	}

	info := data[floatBytes+offsetBytes:]
	if offsets[0] != 0 || offsets[count] != uint32(len(info)) {
		return nil, veldterrors.Corruption(veldterrors.ErrCodeBlockCorrupt,
			"block info offsets [%d, %d] do not span %d info bytes", offsets[0], offsets[count], len(info))
	}
	for i := 0; i < count; i++ {
		if offsets[i] > offsets[i+1] {
			return nil, veldterrors.Corruption(veldterrors.ErrCodeBlockCorrupt,
				"block info offsets decrease at %d", i)
		}
	}

	return &Block{dim: dim, vecs: vecs, offsets: offsets, info: info}, nil
}
