package hnsw

import (
	"context"
	"log/slog"
	"math/rand/v2"

	veldterrors "github.com/veldt-db/veldt/internal/errors"
	"github.com/veldt-db/veldt/internal/objstore"
	"github.com/veldt-db/veldt/internal/store"
	"github.com/veldt-db/veldt/internal/vector"
)

// FlatIndexConfig is the persisted graph configuration of an index.
type FlatIndexConfig struct {
	M              int
	EfConstruction int
	MaxLevel       int
}

// VectorStoreInfo is the persisted file list of an index. VectorFiles are
// sorted and contiguous by start id from 0; NextVectorID is the sum of their
// counts.
type VectorStoreInfo struct {
	NextVectorID uint64
	VectorFiles  []store.VectorFileInfo
}

// FlatIndex is the persisted descriptor of an HNSW flat index.
type FlatIndex struct {
	Config          FlatIndexConfig
	VectorStoreInfo VectorStoreInfo
	GraphFile       *store.GraphFileInfo
}

// NewFlatIndex creates the descriptor of an empty index.
func NewFlatIndex(cfg FlatIndexConfig) *FlatIndex {
	return &FlatIndex{Config: cfg}
}

// IndexDelta is what one sealed epoch adds to the index: the files flushed
// during the epoch and the graph snapshot covering them.
type IndexDelta struct {
	NextVectorID     uint64
	AddedVectorFiles []store.VectorFileInfo
	GraphFile        store.GraphFileInfo
}

// hnswVectorStore routes reads across the four lifecycle tiers. Boundary ids
// are advanced only after the underlying state is installed, so a reader
// holding the writer never observes a partial promotion.
type hnswVectorStore struct {
	sstable *store.SstableStore

	committedVectorFiles  []store.VectorFileInfo
	committedNextVectorID uint64
	sealedVectorFiles     []store.VectorFileInfo
	sealedNextVectorID    uint64
	flushedVectorFiles    []store.VectorFileInfo
	flushedNextVectorID   uint64
	buildingVectors       *store.FileBuilder
}

func newHnswVectorStore(index *FlatIndex, dim int, sstable *store.SstableStore, idMgr objstore.IDManager, blockCap, fileCap int) *hnswVectorStore {
	next := index.VectorStoreInfo.NextVectorID
	return &hnswVectorStore{
		sstable:               sstable,
		committedVectorFiles:  append([]store.VectorFileInfo(nil), index.VectorStoreInfo.VectorFiles...),
		committedNextVectorID: next,
		sealedNextVectorID:    next,
		flushedNextVectorID:   next,
		buildingVectors:       store.NewFileBuilder(dim, next, sstable.Objects(), idMgr, blockCap, fileCap),
	}
}

// GetVector implements VectorStore with strict tier dispatch.
func (s *hnswVectorStore) GetVector(ctx context.Context, id uint64) (store.Accessor, error) {
	switch {
	case id < s.committedNextVectorID:
		return store.GetVectorFromFiles(ctx, s.sstable, s.committedVectorFiles, id)
	case id < s.sealedNextVectorID:
		return store.GetVectorFromFiles(ctx, s.sstable, s.sealedVectorFiles, id)
	case id < s.flushedNextVectorID:
		return store.GetVectorFromFiles(ctx, s.sstable, s.flushedVectorFiles, id)
	case id < s.buildingVectors.NextVectorID():
		return s.buildingVectors.GetVector(id)
	default:
		return nil, veldterrors.OutOfRange("idx %d out of bounds for all vector %d", id, s.buildingVectors.NextVectorID())
	}
}

// recordFinished publishes a finalized file: cache first, then the file
// list, then the boundary.
func (s *hnswVectorStore) recordFinished(fin *store.FinishedFile) {
	s.sstable.InsertVectorCache(fin.Info.ObjectID, fin.Meta, fin.Blocks)
	s.flushedVectorFiles = append(s.flushedVectorFiles, fin.Info)
	s.flushedNextVectorID = fin.Info.NextVectorID()
}

// flush force-finalizes the building tier into a flushed file. Returns the
// flushed file size, 0 if nothing was buffered.
func (s *hnswVectorStore) flush(ctx context.Context) (int, error) {
	fin, err := s.buildingVectors.Finish(ctx)
	if err != nil {
		return 0, err
	}
	if fin == nil {
		return 0, nil
	}
	size := int(fin.Info.FileSize)
	s.recordFinished(fin)
	return size, nil
}

// FlatIndexWriter is the single writer of one HNSW flat index. Insert only
// buffers; the graph build is amortized into flush and try-flush, and seal
// emits the epoch delta for the outer storage manager.
type FlatIndexWriter struct {
	measure vector.Kind
	opts    BuilderOptions

	sstable *store.SstableStore
	idMgr   objstore.IDManager
	logger  *slog.Logger

	vectors             *hnswVectorStore
	nextPendingVectorID uint64
	graphBuilder        *GraphBuilder
	flushedGraphFile    *store.GraphFileInfo
	rng                 *rand.Rand
}

// WriterConfig carries the per-index construction parameters of a writer.
type WriterConfig struct {
	Dimension     int
	Measure       vector.Kind
	BlockCapBytes int
	FileCapBytes  int
	Logger        *slog.Logger
}

// NewFlatIndexWriter creates a writer resuming from a persisted index
// descriptor. If the index has a graph file, it is fetched and decoded so
// construction continues where the last seal left off.
func NewFlatIndexWriter(ctx context.Context, index *FlatIndex, cfg WriterConfig, sstable *store.SstableStore, idMgr objstore.IDManager) (*FlatIndexWriter, error) {
	opts := BuilderOptions{
		M:              index.Config.M,
		EfConstruction: index.Config.EfConstruction,
		MaxLevel:       index.Config.MaxLevel,
	}

	var graphBuilder *GraphBuilder
	if index.GraphFile != nil {
		data, err := sstable.GetHnswGraph(ctx, *index.GraphFile)
		if err != nil {
			return nil, err
		}
		graphBuilder, err = FromProtobuf(opts, data)
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FlatIndexWriter{
		measure:             cfg.Measure,
		opts:                opts,
		sstable:             sstable,
		idMgr:               idMgr,
		logger:              logger,
		vectors:             newHnswVectorStore(index, cfg.Dimension, sstable, idMgr, cfg.BlockCapBytes, cfg.FileCapBytes),
		nextPendingVectorID: index.VectorStoreInfo.NextVectorID,
		graphBuilder:        graphBuilder,
		rng:                 newOSRand(),
	}, nil
}

// Insert appends a vector with its info bytes to the building tier and
// returns the assigned id. The graph is not touched here.
func (w *FlatIndexWriter) Insert(vec []float32, info []byte) (uint64, error) {
	return w.vectors.buildingVectors.Add(vec, info), nil
}

// NextVectorID returns the id the next Insert will assign.
func (w *FlatIndexWriter) NextVectorID() uint64 {
	return w.vectors.buildingVectors.NextVectorID()
}

// GetVector reads any vector the writer knows about, across all four tiers.
func (w *FlatIndexWriter) GetVector(ctx context.Context, id uint64) (store.Accessor, error) {
	return w.vectors.GetVector(ctx, id)
}

// TryFlush opportunistically rolls the block and file builders per their
// size thresholds, then pulls every pending vector into the graph.
func (w *FlatIndexWriter) TryFlush(ctx context.Context) error {
	fin, err := w.vectors.buildingVectors.TryFlush(ctx)
	if err != nil {
		return err
	}
	if fin != nil {
		w.vectors.recordFinished(fin)
		w.logger.Debug("rolled vector file",
			slog.Uint64("object_id", fin.Info.ObjectID),
			slog.Uint64("file_size", fin.Info.FileSize))
	}
	return w.addPendingVectorsToGraph(ctx)
}

// Flush drains the building tier into a flushed file, and, iff this epoch
// has produced flushed files, persists a graph snapshot covering them.
// Returns the size of the flushed vector file (0 if none).
func (w *FlatIndexWriter) Flush(ctx context.Context) (int, error) {
	if err := w.addPendingVectorsToGraph(ctx); err != nil {
		return 0, err
	}
	size, err := w.vectors.flush(ctx)
	if err != nil {
		return 0, err
	}

	if len(w.vectors.flushedVectorFiles) > 0 {
		if w.graphBuilder == nil {
			return 0, veldterrors.ContractViolation("builder should exist when having newly flushed data")
		}
		encoded := w.graphBuilder.ToProtobuf()

		objectID, err := w.idMgr.NewObjectID(ctx)
		if err != nil {
			return 0, err
		}
		if err := w.sstable.Objects().Upload(ctx, objstore.GraphFilePath(objectID), encoded); err != nil {
			return 0, err
		}
		w.sstable.InsertGraphCache(objectID, encoded)
		w.flushedGraphFile = &store.GraphFileInfo{ObjectID: objectID, FileSize: uint64(len(encoded))}

		w.logger.Debug("flushed graph file",
			slog.Uint64("object_id", objectID),
			slog.Int("graph_size", len(encoded)),
			slog.Int("nodes", w.graphBuilder.Len()))
	}
	return size, nil
}

// SealCurrentEpoch promotes all flushed files to sealed and emits the epoch
// delta. Returns nil if the epoch flushed nothing. The building tier must be
// empty: callers flush before sealing.
func (w *FlatIndexWriter) SealCurrentEpoch() (*IndexDelta, error) {
	if !w.vectors.buildingVectors.IsEmpty() {
		return nil, veldterrors.ContractViolation("seal with non-empty building block at vector id %d",
			w.vectors.buildingVectors.NextVectorID())
	}
	if len(w.vectors.flushedVectorFiles) == 0 {
		if w.flushedGraphFile != nil {
			return nil, veldterrors.ContractViolation("graph file %d flushed without vector files",
				w.flushedGraphFile.ObjectID)
		}
		return nil, nil
	}

	flushed := w.vectors.flushedVectorFiles
	w.vectors.flushedVectorFiles = nil
	w.vectors.sealedVectorFiles = append(w.vectors.sealedVectorFiles, flushed...)
	w.vectors.sealedNextVectorID = w.vectors.flushedNextVectorID

	graphFile := w.flushedGraphFile
	if graphFile == nil {
		return nil, veldterrors.ContractViolation("should have new graph info when having new data")
	}
	w.flushedGraphFile = nil

	delta := &IndexDelta{
		NextVectorID:     w.vectors.buildingVectors.NextVectorID(),
		AddedVectorFiles: flushed,
		GraphFile:        *graphFile,
	}
	w.logger.Info("sealed epoch",
		slog.Uint64("next_vector_id", delta.NextVectorID),
		slog.Int("added_vector_files", len(delta.AddedVectorFiles)),
		slog.Uint64("graph_object_id", delta.GraphFile.ObjectID))
	return delta, nil
}

// CommitEpoch promotes all sealed files to committed. Called once the outer
// storage manager acknowledges durability of a sealed delta.
func (w *FlatIndexWriter) CommitEpoch() {
	w.vectors.committedVectorFiles = append(w.vectors.committedVectorFiles, w.vectors.sealedVectorFiles...)
	w.vectors.committedNextVectorID = w.vectors.sealedNextVectorID
	w.vectors.sealedVectorFiles = nil
}

// Graph exposes the graph under construction; nil before the first vector
// reaches the graph.
func (w *FlatIndexWriter) Graph() *GraphBuilder {
	return w.graphBuilder
}

// SearchGraph returns the k approximate nearest ids for query within the
// graph built so far.
func (w *FlatIndexWriter) SearchGraph(ctx context.Context, query []float32, k, ef int) ([]uint64, error) {
	if w.graphBuilder == nil {
		return nil, nil
	}
	switch w.measure {
	case vector.KindL1:
		return Search[vector.L1, vector.L1Measurer](ctx, w.vectors, w.graphBuilder, query, k, ef)
	case vector.KindL2:
		return Search[vector.L2, vector.L2Measurer](ctx, w.vectors, w.graphBuilder, query, k, ef)
	case vector.KindCosine:
		return Search[vector.Cosine, vector.CosineMeasurer](ctx, w.vectors, w.graphBuilder, query, k, ef)
	case vector.KindInnerProduct:
		return Search[vector.InnerProduct, vector.InnerProductMeasurer](ctx, w.vectors, w.graphBuilder, query, k, ef)
	default:
		return nil, veldterrors.Newf(veldterrors.ErrCodeInternal, "unknown distance measure %d", w.measure)
	}
}

// addPendingVectorsToGraph inserts every id in [nextPending, buildingNext)
// into the graph in id order.
func (w *FlatIndexWriter) addPendingVectorsToGraph(ctx context.Context) error {
	for i := w.nextPendingVectorID; i < w.vectors.buildingVectors.NextVectorID(); i++ {
		node := NewNode(&w.opts, w.rng)
		if w.graphBuilder == nil {
			w.graphBuilder = First(w.opts, node)
			continue
		}

		acc, err := w.vectors.GetVector(ctx, i)
		if err != nil {
			return err
		}
		if err := w.insertNode(ctx, node, acc.VecRef()); err != nil {
			return err
		}
	}
	w.nextPendingVectorID = w.vectors.buildingVectors.NextVectorID()
	return nil
}

// insertNode dispatches the measure statically: each arm instantiates the
// generic insert with the concrete builder/measurer pair so the per-edge
// distance call is monomorphized.
func (w *FlatIndexWriter) insertNode(ctx context.Context, node *Node, vec []float32) error {
	switch w.measure {
	case vector.KindL1:
		return Insert[vector.L1, vector.L1Measurer](ctx, w.vectors, w.graphBuilder, node, vec, w.opts.EfConstruction)
	case vector.KindL2:
		return Insert[vector.L2, vector.L2Measurer](ctx, w.vectors, w.graphBuilder, node, vec, w.opts.EfConstruction)
	case vector.KindCosine:
		return Insert[vector.Cosine, vector.CosineMeasurer](ctx, w.vectors, w.graphBuilder, node, vec, w.opts.EfConstruction)
	case vector.KindInnerProduct:
		return Insert[vector.InnerProduct, vector.InnerProductMeasurer](ctx, w.vectors, w.graphBuilder, node, vec, w.opts.EfConstruction)
	default:
		return veldterrors.Newf(veldterrors.ErrCodeInternal, "unknown distance measure %d", w.measure)
	}
}
