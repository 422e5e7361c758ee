// Package store provides the cached read path over uploaded vector files and
// graph files, the vector file builder, and the binary locator used to route
// a vector id to its holder.
package store

import (
	"encoding/binary"

	"github.com/veldt-db/veldt/internal/block"
	veldterrors "github.com/veldt-db/veldt/internal/errors"
)

// VectorFileInfo identifies one uploaded vector file and the id range it
// holds.
type VectorFileInfo struct {
	ObjectID      uint64
	FileSize      uint64
	StartVectorID uint64
	VectorCount   uint64
}

// NextVectorID returns the first vector id after this file.
func (f VectorFileInfo) NextVectorID() uint64 {
	return f.StartVectorID + f.VectorCount
}

// GraphFileInfo identifies one uploaded HNSW graph file.
type GraphFileInfo struct {
	ObjectID uint64
	FileSize uint64
}

// FileMeta is the decoded footer of a vector file: the ordered block metas.
type FileMeta struct {
	BlockMetas []block.Meta
}

const blockMetaEncodedSize = 24

// File layout:
//
//	[block_0 bytes] ‖ … ‖ [block_{n-1} bytes] ‖ [footer]
//	footer = [block metas × n] ‖ [footer_size: u32]
//
// Each block meta encodes as {start_vector_id u64, vector_count u32,
// offset u64, size u32}, little-endian. footer_size counts the metas region
// only, excluding the trailing u32 itself.

// EncodeFooter serializes the footer including the trailing size word.
func (m *FileMeta) EncodeFooter() []byte {
	metasSize := blockMetaEncodedSize * len(m.BlockMetas)
	buf := make([]byte, 0, metasSize+4)
	for _, bm := range m.BlockMetas {
		buf = binary.LittleEndian.AppendUint64(buf, bm.StartVectorID)
		buf = binary.LittleEndian.AppendUint32(buf, bm.VectorCount)
		buf = binary.LittleEndian.AppendUint64(buf, bm.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, bm.Size)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(metasSize))
	return buf
}

// DecodeFileMeta parses the metas region of a footer (without the trailing
// size word) and checks that the block id ranges are contiguous.
func DecodeFileMeta(data []byte) (*FileMeta, error) {
	if len(data)%blockMetaEncodedSize != 0 {
		return nil, veldterrors.Corruption(veldterrors.ErrCodeFooterCorrupt,
			"footer of %d bytes is not a whole number of block metas", len(data))
	}

	n := len(data) / blockMetaEncodedSize
	metas := make([]block.Meta, n)
	for i := 0; i < n; i++ {
		off := i * blockMetaEncodedSize
		metas[i] = block.Meta{
			StartVectorID: binary.LittleEndian.Uint64(data[off:]),
			VectorCount:   binary.LittleEndian.Uint32(data[off+8:]),
			Offset:        binary.LittleEndian.Uint64(data[off+12:]),
			Size:          binary.LittleEndian.Uint32(data[off+20:]),
		}
	}

	for i := 1; i < n; i++ {
		if metas[i].StartVectorID != metas[i-1].NextVectorID() {
			return nil, veldterrors.Corruption(veldterrors.ErrCodeFooterCorrupt,
				"block metas not contiguous: block %d starts at %d, expected %d",
				i, metas[i].StartVectorID, metas[i-1].NextVectorID())
		}
	}

	return &FileMeta{BlockMetas: metas}, nil
}

// VectorCount returns the total vectors across all blocks.
func (m *FileMeta) VectorCount() uint64 {
	var total uint64
	for _, bm := range m.BlockMetas {
		total += uint64(bm.VectorCount)
	}
	return total
}
