package store

import (
	"sort"

	"github.com/veldt-db/veldt/internal/block"
	veldterrors "github.com/veldt-db/veldt/internal/errors"
)

// SearchVector locates the holder containing a vector id within a sorted,
// contiguous run of holders. It returns the holder index and the offset of
// the id inside that holder. O(log n).
func SearchVector[T any](holders []T, id uint64, startOf func(T) uint64, countOf func(T) uint64) (int, int, error) {
	// Partition point: first holder whose start exceeds id.
	idx := sort.Search(len(holders), func(i int) bool {
		return startOf(holders[i]) > id
	})
	if idx == 0 {
		var first uint64
		if len(holders) > 0 {
			first = startOf(holders[0])
		}
		return 0, 0, veldterrors.OutOfRange("idx %d too small for first vector id %d", id, first)
	}

	holderIdx := idx - 1
	offset := id - startOf(holders[holderIdx])
	if offset >= countOf(holders[holderIdx]) {
		return 0, 0, veldterrors.OutOfRange("idx %d out of range for holder %d starting at %d with %d vectors",
			id, holderIdx, startOf(holders[holderIdx]), countOf(holders[holderIdx]))
	}
	return holderIdx, int(offset), nil
}

// searchVectorFiles routes a vector id to its file.
func searchVectorFiles(files []VectorFileInfo, id uint64) (int, error) {
	fileIdx, _, err := SearchVector(files, id,
		func(f VectorFileInfo) uint64 { return f.StartVectorID },
		func(f VectorFileInfo) uint64 { return f.VectorCount })
	if err != nil {
		return 0, err
	}
	return fileIdx, nil
}

// searchBlocks routes a vector id to its block and offset within the block.
func searchBlocks(metas []block.Meta, id uint64) (int, int, error) {
	return SearchVector(metas, id,
		func(m block.Meta) uint64 { return m.StartVectorID },
		func(m block.Meta) uint64 { return uint64(m.VectorCount) })
}
