package hnsw

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	veldterrors "github.com/veldt-db/veldt/internal/errors"
	"github.com/veldt-db/veldt/internal/objstore"
	"github.com/veldt-db/veldt/internal/store"
	"github.com/veldt-db/veldt/internal/vector"
)

type writerEnv struct {
	objects *objstore.MemStore
	sstable *store.SstableStore
	idMgr   *objstore.CounterIDManager
	writer  *FlatIndexWriter
}

func newWriterEnv(t *testing.T, index *FlatIndex, dim int, measure vector.Kind, blockCap, fileCap int) *writerEnv {
	t.Helper()
	ctx := context.Background()

	objects := objstore.NewMemStore()
	sstable, err := store.NewSstableStore(objects, dim, store.DefaultCacheOptions())
	require.NoError(t, err)
	idMgr := objstore.NewCounterIDManager(1)

	w, err := NewFlatIndexWriter(ctx, index, WriterConfig{
		Dimension:     dim,
		Measure:       measure,
		BlockCapBytes: blockCap,
		FileCapBytes:  fileCap,
	}, sstable, idMgr)
	require.NoError(t, err)
	w.rng = rand.New(rand.NewPCG(9, 9))

	return &writerEnv{objects: objects, sstable: sstable, idMgr: idMgr, writer: w}
}

func defaultIndex() *FlatIndex {
	return NewFlatIndex(FlatIndexConfig{M: 16, EfConstruction: 64, MaxLevel: 8})
}

func checkBoundaries(t *testing.T, w *FlatIndexWriter) {
	t.Helper()
	v := w.vectors
	require.LessOrEqual(t, v.committedNextVectorID, v.sealedNextVectorID)
	require.LessOrEqual(t, v.sealedNextVectorID, v.flushedNextVectorID)
	require.LessOrEqual(t, v.flushedNextVectorID, v.buildingVectors.NextVectorID())
}

// S1: a fresh writer seals to nothing and flushes zero bytes.
func TestWriter_EmptySeal(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 4, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()

	delta, err := env.writer.SealCurrentEpoch()
	require.NoError(t, err)
	assert.Nil(t, delta)

	size, err := env.writer.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	// Flushing nothing must not fabricate a graph file.
	assert.Nil(t, env.writer.flushedGraphFile)
	checkBoundaries(t, env.writer)
}

// S2: one insert, flush, read back from the flushed tier.
func TestWriter_SingleInsertFlush(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 4, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()

	id, err := env.writer.Insert([]float32{1, 2, 3, 4}, []byte{0xAB})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	size, err := env.writer.Flush(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, 0)

	// The id now resolves in the flushed tier.
	assert.Equal(t, uint64(1), env.writer.vectors.flushedNextVectorID)
	acc, err := env.writer.GetVector(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, acc.VecRef())
	assert.Equal(t, []byte{0xAB}, acc.Info())
	checkBoundaries(t, env.writer)
}

// S3 + property 4: ids stay dense and resolvable across interleaved flushes.
func TestWriter_TierTransparency(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := env.writer.Insert([]float32{float32(i), 1}, []byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := env.writer.Flush(ctx)
	require.NoError(t, err)

	for i := 50; i < 100; i++ {
		_, err := env.writer.Insert([]float32{float32(i), 1}, []byte{byte(i)})
		require.NoError(t, err)
	}

	for _, i := range []uint64{0, 49, 50, 99} {
		acc, err := env.writer.GetVector(ctx, i)
		require.NoError(t, err, "id %d", i)
		assert.Equal(t, []float32{float32(i), 1}, acc.VecRef(), "id %d", i)
		assert.Equal(t, []byte{byte(i)}, acc.Info(), "id %d", i)
	}

	// Every id is readable, not just the probes.
	for i := uint64(0); i < 100; i++ {
		_, err := env.writer.GetVector(ctx, i)
		require.NoError(t, err, "id %d", i)
	}

	_, err = env.writer.GetVector(ctx, 100)
	require.Error(t, err)
	assert.True(t, veldterrors.IsOutOfRange(err))
	checkBoundaries(t, env.writer)
}

// S4: seal emits the epoch delta once; an immediate second seal is a no-op.
func TestWriter_SealDelta(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()

	_, err := env.writer.Insert([]float32{1, 0}, nil)
	require.NoError(t, err)
	_, err = env.writer.Insert([]float32{0, 1}, nil)
	require.NoError(t, err)

	_, err = env.writer.Flush(ctx)
	require.NoError(t, err)

	delta, err := env.writer.SealCurrentEpoch()
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.Len(t, delta.AddedVectorFiles, 1)
	assert.Equal(t, uint64(2), delta.NextVectorID)
	assert.NotZero(t, delta.GraphFile.FileSize)

	// Sealed data remains readable.
	acc, err := env.writer.GetVector(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, acc.VecRef())

	second, err := env.writer.SealCurrentEpoch()
	require.NoError(t, err)
	assert.Nil(t, second)
	checkBoundaries(t, env.writer)
}

// S5: the first-ever vector bootstraps a one-node graph with no edges.
func TestWriter_GraphBootstrap(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()

	_, err := env.writer.Insert([]float32{3, 4}, nil)
	require.NoError(t, err)
	_, err = env.writer.Flush(ctx)
	require.NoError(t, err)

	g := env.writer.Graph()
	require.NotNil(t, g)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, uint64(0), g.EntryPoint())
	for _, nbs := range g.Node(0).Neighbors {
		assert.Empty(t, nbs)
	}
}

// S6: sealing over a partially filled block is a contract violation.
func TestWriter_SealWithPartialBlockFails(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)

	_, err := env.writer.Insert([]float32{1, 1}, nil)
	require.NoError(t, err)

	_, err = env.writer.SealCurrentEpoch()
	require.Error(t, err)
	assert.True(t, veldterrors.IsContractViolation(err))
}

// Multiple epochs: flush/seal/commit cycles keep every id readable and the
// boundaries ordered at every observable point.
func TestWriter_EpochLifecycle(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()
	w := env.writer

	next := uint64(0)
	for epoch := 0; epoch < 3; epoch++ {
		for i := 0; i < 10; i++ {
			id, err := w.Insert([]float32{float32(epoch), float32(i)}, nil)
			require.NoError(t, err)
			assert.Equal(t, next, id)
			next++
			checkBoundaries(t, w)
		}

		_, err := w.Flush(ctx)
		require.NoError(t, err)
		checkBoundaries(t, w)

		delta, err := w.SealCurrentEpoch()
		require.NoError(t, err)
		require.NotNil(t, delta)
		assert.Equal(t, next, delta.NextVectorID)
		checkBoundaries(t, w)

		w.CommitEpoch()
		checkBoundaries(t, w)
		assert.Equal(t, next, w.vectors.committedNextVectorID)
	}

	// After three committed epochs every id still resolves.
	for i := uint64(0); i < next; i++ {
		_, err := w.GetVector(ctx, i)
		require.NoError(t, err, "id %d", i)
	}
	assert.Equal(t, 3, w.Graph().Len()/10)
}

// Flush twice within one epoch: the second flush re-snapshots the graph and
// seal returns the latest graph file.
func TestWriter_TwoFlushesOneSeal(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()
	w := env.writer

	_, err := w.Insert([]float32{1, 0}, nil)
	require.NoError(t, err)
	_, err = w.Flush(ctx)
	require.NoError(t, err)
	firstGraph := *w.flushedGraphFile

	_, err = w.Insert([]float32{0, 1}, nil)
	require.NoError(t, err)
	_, err = w.Flush(ctx)
	require.NoError(t, err)
	secondGraph := *w.flushedGraphFile
	assert.NotEqual(t, firstGraph.ObjectID, secondGraph.ObjectID)

	delta, err := w.SealCurrentEpoch()
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.Len(t, delta.AddedVectorFiles, 2)
	assert.Equal(t, secondGraph, delta.GraphFile)
}

// A flush on a writer that has buffered nothing writes no vector file, and
// therefore no graph file, since the epoch produced no vector files.
func TestWriter_FlushWithoutDataWritesNoGraph(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()
	w := env.writer

	size, err := w.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Nil(t, w.flushedGraphFile)

	// Seal agrees that nothing happened.
	delta, err := w.SealCurrentEpoch()
	require.NoError(t, err)
	assert.Nil(t, delta)
}

// TryFlush honors the file cap and feeds rolled vectors into the graph.
func TestWriter_TryFlushRollsFiles(t *testing.T) {
	// Tiny caps so every vector rolls a block and file.
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1, 1)
	ctx := context.Background()
	w := env.writer

	for i := 0; i < 5; i++ {
		_, err := w.Insert([]float32{float32(i), 0}, nil)
		require.NoError(t, err)
		require.NoError(t, w.TryFlush(ctx))
		checkBoundaries(t, w)
	}

	assert.NotEmpty(t, w.vectors.flushedVectorFiles)
	assert.Equal(t, 5, w.Graph().Len())

	// All rolled ids readable through the flushed tier.
	for i := uint64(0); i < 5; i++ {
		_, err := w.GetVector(ctx, i)
		require.NoError(t, err, "id %d", i)
	}
}

// A writer reopened from a sealed index resumes ids and graph where the
// previous writer stopped.
func TestWriter_ResumeFromPersistedIndex(t *testing.T) {
	index := defaultIndex()
	env := newWriterEnv(t, index, 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := env.writer.Insert([]float32{float32(i), float32(i % 3)}, nil)
		require.NoError(t, err)
	}
	_, err := env.writer.Flush(ctx)
	require.NoError(t, err)
	delta, err := env.writer.SealCurrentEpoch()
	require.NoError(t, err)
	require.NotNil(t, delta)

	// Apply the delta to the descriptor the way the storage manager would.
	index.VectorStoreInfo.NextVectorID = delta.NextVectorID
	index.VectorStoreInfo.VectorFiles = append(index.VectorStoreInfo.VectorFiles, delta.AddedVectorFiles...)
	index.GraphFile = &delta.GraphFile

	resumed, err := NewFlatIndexWriter(ctx, index, WriterConfig{
		Dimension:     2,
		Measure:       vector.KindL2,
		BlockCapBytes: 1 << 16,
		FileCapBytes:  1 << 20,
	}, env.sstable, env.idMgr)
	require.NoError(t, err)
	resumed.rng = rand.New(rand.NewPCG(1, 1))

	assert.Equal(t, uint64(8), resumed.NextVectorID())
	require.NotNil(t, resumed.Graph())
	assert.Equal(t, 8, resumed.Graph().Len())

	// Committed reads work and new inserts continue the sequence.
	acc, err := resumed.GetVector(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0}, acc.VecRef())

	id, err := resumed.Insert([]float32{100, 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), id)

	_, err = resumed.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, resumed.Graph().Len())
	checkBoundaries(t, resumed)
}

// Graph search through the writer sees vectors in every tier.
func TestWriter_SearchAcrossTiers(t *testing.T) {
	env := newWriterEnv(t, defaultIndex(), 2, vector.KindL2, 1<<16, 1<<20)
	ctx := context.Background()
	w := env.writer

	_, err := w.Insert([]float32{0, 0}, nil)
	require.NoError(t, err)
	_, err = w.Insert([]float32{10, 10}, nil)
	require.NoError(t, err)
	_, err = w.Flush(ctx)
	require.NoError(t, err)

	_, err = w.Insert([]float32{0.5, 0.5}, nil)
	require.NoError(t, err)
	require.NoError(t, w.TryFlush(ctx))

	ids, err := w.SearchGraph(ctx, []float32{0.4, 0.4}, 1, 16)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, uint64(2), ids[0])
}
