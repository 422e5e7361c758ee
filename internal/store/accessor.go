package store

import (
	"context"

	"github.com/veldt-db/veldt/internal/block"
)

// Accessor yields one vector and its info bytes. The referenced memory is
// owned by a block (pinned by the cache) or by the block builder; callers
// must not mutate it.
type Accessor interface {
	VecRef() []float32
	Info() []byte
}

// blockAccessor reads a vector out of a decoded block.
type blockAccessor struct {
	block  *block.Block
	offset int
}

func (a blockAccessor) VecRef() []float32 { return a.block.VecRef(a.offset) }
func (a blockAccessor) Info() []byte      { return a.block.Info(a.offset) }

// builderAccessor reads a vector still buffered in a block builder.
type builderAccessor struct {
	builder *block.Builder
	offset  int
}

func (a builderAccessor) VecRef() []float32 { return a.builder.VecRef(a.offset) }
func (a builderAccessor) Info() []byte      { return a.builder.Info(a.offset) }

// GetVectorFromFiles resolves a vector id against a sorted run of files:
// file → footer → block → offset, all through the cache.
func GetVectorFromFiles(ctx context.Context, s *SstableStore, files []VectorFileInfo, id uint64) (Accessor, error) {
	fileIdx, err := searchVectorFiles(files, id)
	if err != nil {
		return nil, err
	}
	info := files[fileIdx]

	meta, err := s.GetVectorFileMeta(ctx, info)
	if err != nil {
		return nil, err
	}
	blockIdx, offset, err := searchBlocks(meta.BlockMetas, id)
	if err != nil {
		return nil, err
	}

	blk, err := s.GetVectorBlock(ctx, info, blockIdx, meta.BlockMetas[blockIdx])
	if err != nil {
		return nil, err
	}
	return blockAccessor{block: blk, offset: offset}, nil
}

// FileVectorStore is an immutable read-only view over a fixed vector file
// list: the snapshot analog of the writer's tiered store, safe for
// concurrent readers.
type FileVectorStore struct {
	files []VectorFileInfo
	store *SstableStore
}

// NewFileVectorStore creates a read-only view. The file list is copied so
// the view stays valid while the writer keeps appending.
func NewFileVectorStore(files []VectorFileInfo, store *SstableStore) *FileVectorStore {
	snapshot := make([]VectorFileInfo, len(files))
	copy(snapshot, files)
	return &FileVectorStore{files: snapshot, store: store}
}

// GetVector resolves a vector id within the snapshot.
func (s *FileVectorStore) GetVector(ctx context.Context, id uint64) (Accessor, error) {
	return GetVectorFromFiles(ctx, s.store, s.files, id)
}

// NextVectorID returns the first id beyond the snapshot.
func (s *FileVectorStore) NextVectorID() uint64 {
	if len(s.files) == 0 {
		return 0
	}
	return s.files[len(s.files)-1].NextVectorID()
}
