package hnsw

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	veldterrors "github.com/veldt-db/veldt/internal/errors"
	"github.com/veldt-db/veldt/internal/store"
	"github.com/veldt-db/veldt/internal/vector"
)

// memVectorStore serves vectors straight from memory, standing in for the
// tiered store in graph-only tests.
type memVectorStore struct {
	vecs [][]float32
}

type memAccessor struct {
	vec []float32
}

func (a memAccessor) VecRef() []float32 { return a.vec }
func (a memAccessor) Info() []byte      { return nil }

func (s *memVectorStore) GetVector(_ context.Context, id uint64) (store.Accessor, error) {
	if id >= uint64(len(s.vecs)) {
		return nil, veldterrors.OutOfRange("idx %d out of bounds for all vector %d", id, len(s.vecs))
	}
	return memAccessor{vec: s.vecs[id]}, nil
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(42, 1))
}

func TestNewNode_LevelClampedAndAllocated(t *testing.T) {
	opts := &BuilderOptions{M: 16, EfConstruction: 100, MaxLevel: 4}
	rng := testRand()

	seen := make(map[int]int)
	for i := 0; i < 2000; i++ {
		node := NewNode(opts, rng)
		require.GreaterOrEqual(t, node.Level, 0)
		require.LessOrEqual(t, node.Level, opts.MaxLevel)
		require.Len(t, node.Neighbors, node.Level+1)
		for _, nbs := range node.Neighbors {
			require.Empty(t, nbs)
		}
		seen[node.Level]++
	}

	// Geometric-ish distribution: level 0 dominates, higher levels occur.
	assert.Greater(t, seen[0], 1000)
	assert.Greater(t, seen[1], 0)
}

func TestFirst_SingleNodeGraph(t *testing.T) {
	opts := BuilderOptions{M: 4, EfConstruction: 8, MaxLevel: 3}
	node := NewNode(&opts, testRand())

	g := First(opts, node)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, uint64(0), g.EntryPoint())
	assert.Same(t, node, g.Node(0))
}

// insertAll grows a graph over the given vectors with L2, starting from a
// fresh builder seeded by the first vector.
func insertAll(t *testing.T, opts BuilderOptions, vecs [][]float32, rng *rand.Rand) (*GraphBuilder, *memVectorStore) {
	t.Helper()
	ctx := context.Background()
	vs := &memVectorStore{}

	var g *GraphBuilder
	for _, vec := range vecs {
		vs.vecs = append(vs.vecs, vec)
		node := NewNode(&opts, rng)
		if g == nil {
			g = First(opts, node)
			continue
		}
		err := Insert[vector.L2, vector.L2Measurer](ctx, vs, g, node, vec, opts.EfConstruction)
		require.NoError(t, err)
	}
	return g, vs
}

func randomVecs(rng *rand.Rand, n, dim int) [][]float32 {
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vecs[i] = v
	}
	return vecs
}

// After every insert, no adjacency list exceeds M and every edge stays
// within both endpoints' levels.
func TestInsert_NeighborCapAndLevelInvariant(t *testing.T) {
	opts := BuilderOptions{M: 4, EfConstruction: 16, MaxLevel: 8}
	rng := testRand()
	vecs := randomVecs(rng, 300, 8)

	ctx := context.Background()
	vs := &memVectorStore{}
	var g *GraphBuilder
	for _, vec := range vecs {
		vs.vecs = append(vs.vecs, vec)
		node := NewNode(&opts, rng)
		if g == nil {
			g = First(opts, node)
			continue
		}
		require.NoError(t, Insert[vector.L2, vector.L2Measurer](ctx, vs, g, node, vec, opts.EfConstruction))

		for id := uint64(0); id < uint64(g.Len()); id++ {
			n := g.Node(id)
			require.Len(t, n.Neighbors, n.Level+1)
			for level, nbs := range n.Neighbors {
				require.LessOrEqual(t, len(nbs), opts.M,
					"node %d level %d has %d neighbors", id, level, len(nbs))
				for _, nb := range nbs {
					require.Less(t, nb, uint64(g.Len()))
					require.GreaterOrEqual(t, g.Node(nb).Level, level,
						"edge (%d,%d) above level of %d", id, nb, nb)
				}
			}
		}
	}

	// Entry point has the maximal level.
	maxLevel := 0
	for id := uint64(0); id < uint64(g.Len()); id++ {
		if l := g.Node(id).Level; l > maxLevel {
			maxLevel = l
		}
	}
	assert.Equal(t, maxLevel, g.Node(g.EntryPoint()).Level)
}

func TestInsert_LevelZeroEdgeCount(t *testing.T) {
	opts := BuilderOptions{M: 8, EfConstruction: 32, MaxLevel: 4}
	rng := testRand()
	g, _ := insertAll(t, opts, randomVecs(rng, 50, 4), rng)

	// Sum the level-0 adjacency list lengths. Insert adds each edge in both
	// directions, but a shrink may later drop one side, so symmetry is not
	// checked; only that the total exceeds n-1.
	total := 0
	for id := uint64(0); id < uint64(g.Len()); id++ {
		total += len(g.Node(id).Neighbors[0])
	}
	assert.Greater(t, total, g.Len()-1, "graph should have at least a connected backbone")
}

func TestSearch_FindsExactMatch(t *testing.T) {
	opts := BuilderOptions{M: 8, EfConstruction: 32, MaxLevel: 4}
	rng := testRand()
	vecs := randomVecs(rng, 200, 8)
	g, vs := insertAll(t, opts, vecs, rng)

	ctx := context.Background()
	for _, target := range []uint64{0, 17, 100, 199} {
		ids, err := Search[vector.L2, vector.L2Measurer](ctx, vs, g, vecs[target], 5, 32)
		require.NoError(t, err)
		require.NotEmpty(t, ids)
		assert.Equal(t, target, ids[0], "exact vector should be its own nearest neighbor")
	}
}

func TestSearch_SingleNode(t *testing.T) {
	opts := BuilderOptions{M: 4, EfConstruction: 8, MaxLevel: 2}
	rng := testRand()
	g, vs := insertAll(t, opts, [][]float32{{1, 2}}, rng)

	ids, err := Search[vector.L2, vector.L2Measurer](context.Background(), vs, g, []float32{0, 0}, 3, 8)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, ids)
}
