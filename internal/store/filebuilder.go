package store

import (
	"context"

	"github.com/veldt-db/veldt/internal/block"
	veldterrors "github.com/veldt-db/veldt/internal/errors"
	"github.com/veldt-db/veldt/internal/objstore"
)

// FinishedFile is the result of finalizing a vector file: its info for the
// file list, plus the decoded blocks and meta so the caller can populate the
// cache before publishing the file.
type FinishedFile struct {
	Info   VectorFileInfo
	Meta   *FileMeta
	Blocks []*block.Block
}

// FileBuilder groups finished blocks into vector files. Vectors are appended
// into the current block; blocks roll over at blockCap bytes, files at
// fileCap bytes. Finalizing a file allocates a fresh object id and uploads
// the encoded file; nothing is mutated until the upload succeeds, so an
// aborted upload leaves the builder recoverable.
type FileBuilder struct {
	dim      int
	blockCap int
	fileCap  int

	objects objstore.Store
	idMgr   objstore.IDManager

	fileStart uint64
	blocks    []*block.Block
	metas     []block.Meta
	dataSize  uint64
	builder   *block.Builder
}

// NewFileBuilder creates a builder whose first vector receives nextVectorID.
func NewFileBuilder(dim int, nextVectorID uint64, objects objstore.Store, idMgr objstore.IDManager, blockCap, fileCap int) *FileBuilder {
	return &FileBuilder{
		dim:       dim,
		blockCap:  blockCap,
		fileCap:   fileCap,
		objects:   objects,
		idMgr:     idMgr,
		fileStart: nextVectorID,
		builder:   block.NewBuilder(dim, nextVectorID),
	}
}

// Add appends a vector and returns its id. The current block is finished
// in-memory once it reaches blockCap; no I/O happens here.
func (f *FileBuilder) Add(vec []float32, info []byte) uint64 {
	id := f.builder.Add(vec, info)
	if !f.builder.IsEmpty() && f.builder.EncodedSize() >= f.blockCap {
		f.finishBlock()
	}
	return id
}

// NextVectorID returns the id the next Add will assign.
func (f *FileBuilder) NextVectorID() uint64 {
	return f.builder.NextVectorID()
}

// IsEmpty reports whether no data is buffered: no finished blocks awaiting a
// file and no partial block.
func (f *FileBuilder) IsEmpty() bool {
	return len(f.blocks) == 0 && f.builder.IsEmpty()
}

// GetVector serves reads for ids still owned by the builder: the partial
// block or a finished block awaiting file finalization.
func (f *FileBuilder) GetVector(id uint64) (Accessor, error) {
	if id >= f.builder.NextVectorID() {
		return nil, veldterrors.OutOfRange("idx %d out of bounds for all vector %d", id, f.builder.NextVectorID())
	}
	if id >= f.builder.StartVectorID() {
		return builderAccessor{builder: f.builder, offset: int(id - f.builder.StartVectorID())}, nil
	}
	blockIdx, offset, err := searchBlocks(f.metas, id)
	if err != nil {
		return nil, err
	}
	return blockAccessor{block: f.blocks[blockIdx], offset: offset}, nil
}

// TryFlush applies the size thresholds without force-finalizing the current
// block: finishes the block if it reached blockCap, then finalizes and
// uploads the file if it reached fileCap. Returns the finished file, or nil
// if no threshold was crossed.
func (f *FileBuilder) TryFlush(ctx context.Context) (*FinishedFile, error) {
	if !f.builder.IsEmpty() && f.builder.EncodedSize() >= f.blockCap {
		f.finishBlock()
	}
	if f.dataSize >= uint64(f.fileCap) {
		return f.finishFile(ctx)
	}
	return nil, nil
}

// Finish force-finalizes: seals the partial block if non-empty, then
// finalizes and uploads the file. Returns nil if nothing was buffered.
func (f *FileBuilder) Finish(ctx context.Context) (*FinishedFile, error) {
	if !f.builder.IsEmpty() {
		f.finishBlock()
	}
	if len(f.blocks) == 0 {
		return nil, nil
	}
	return f.finishFile(ctx)
}

func (f *FileBuilder) finishBlock() {
	blk, meta := f.builder.Finish(f.dataSize)
	f.blocks = append(f.blocks, blk)
	f.metas = append(f.metas, meta)
	f.dataSize += uint64(meta.Size)
}

func (f *FileBuilder) finishFile(ctx context.Context) (*FinishedFile, error) {
	meta := &FileMeta{BlockMetas: f.metas}

	data := make([]byte, 0, f.dataSize+uint64(blockMetaEncodedSize*len(f.metas))+4)
	for _, blk := range f.blocks {
		data = append(data, blk.Encode()...)
	}
	data = append(data, meta.EncodeFooter()...)

	// The object id is allocated immediately before the upload so an aborted
	// upload only leaks an id, never a half-published file.
	objectID, err := f.idMgr.NewObjectID(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.objects.Upload(ctx, objstore.VectorFilePath(objectID), data); err != nil {
		return nil, err
	}

	nextID := f.builder.StartVectorID()
	finished := &FinishedFile{
		Info: VectorFileInfo{
			ObjectID:      objectID,
			FileSize:      uint64(len(data)),
			StartVectorID: f.fileStart,
			VectorCount:   nextID - f.fileStart,
		},
		Meta:   meta,
		Blocks: f.blocks,
	}

	f.fileStart = nextID
	f.blocks = nil
	f.metas = nil
	f.dataSize = 0

	return finished, nil
}
