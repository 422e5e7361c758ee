// Package hnsw builds and persists the Hierarchical Navigable Small World
// proximity graph over the tiered vector store, and orchestrates the
// flush/seal epoch protocol of the flat index writer.
//
// Graph nodes reference vectors by id, never by pointer: a vector may live
// in any lifecycle tier and logically moves across them, so every distance
// evaluation resolves the id through the store.
package hnsw

import (
	"container/heap"
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/veldt-db/veldt/internal/store"
	"github.com/veldt-db/veldt/internal/vector"
)

// BuilderOptions are the fixed graph construction parameters of an index.
type BuilderOptions struct {
	// M is the maximum number of neighbors per node per level.
	M int
	// EfConstruction is the candidate set size during insertion search.
	EfConstruction int
	// MaxLevel caps the sampled node level.
	MaxLevel int
}

// levelMultiplier is the m_L normalization constant, 1/ln(M).
func (o *BuilderOptions) levelMultiplier() float64 {
	return 1 / math.Log(float64(o.M))
}

// VectorStore resolves vector ids for distance evaluation during graph
// construction and search.
type VectorStore interface {
	GetVector(ctx context.Context, id uint64) (store.Accessor, error)
}

// Node is one graph node. Its vector id is its position in the node array.
type Node struct {
	Level int
	// Neighbors[l] holds the ids adjacent at level l, for l in [0, Level].
	Neighbors [][]uint64
}

// NewNode samples a level for a fresh node: draw r in (0,1] uniformly, then
// level = floor(-ln(r) · m_L), clamped to MaxLevel.
func NewNode(opts *BuilderOptions, rng *rand.Rand) *Node {
	r := 1 - rng.Float64()
	level := int(math.Floor(-math.Log(r) * opts.levelMultiplier()))
	if level > opts.MaxLevel {
		level = opts.MaxLevel
	}

	neighbors := make([][]uint64, level+1)
	for i := range neighbors {
		neighbors[i] = make([]uint64, 0, opts.M)
	}
	return &Node{Level: level, Neighbors: neighbors}
}

// GraphBuilder is the mutable graph under construction. It always holds at
// least one node; an index with no vectors has no builder at all.
type GraphBuilder struct {
	opts       BuilderOptions
	entryPoint uint64
	nodes      []*Node
}

// First initializes a one-node graph. The first node has no edges and its
// vector content is irrelevant.
func First(opts BuilderOptions, node *Node) *GraphBuilder {
	return &GraphBuilder{opts: opts, entryPoint: 0, nodes: []*Node{node}}
}

// Len returns the number of nodes.
func (g *GraphBuilder) Len() int {
	return len(g.nodes)
}

// EntryPoint returns the id of the entry node.
func (g *GraphBuilder) EntryPoint() uint64 {
	return g.entryPoint
}

// Node returns the node with the given id.
func (g *GraphBuilder) Node(id uint64) *Node {
	return g.nodes[id]
}

// scored pairs a node id with its distance to the query.
type scored struct {
	id   uint64
	dist vector.Distance
}

// closer orders by distance, breaking ties by smaller id.
func closer(a, b scored) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

// scoredHeap is a binary heap of scored entries. With max=false the root is
// the closest entry (candidate queue); with max=true the root is the
// farthest (bounded result set).
type scoredHeap struct {
	items []scored
	max   bool
}

func (h *scoredHeap) Len() int { return len(h.items) }
func (h *scoredHeap) Less(i, j int) bool {
	if h.max {
		return closer(h.items[j], h.items[i])
	}
	return closer(h.items[i], h.items[j])
}
func (h *scoredHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *scoredHeap) Push(x any)    { h.items = append(h.items, x.(scored)) }
func (h *scoredHeap) Pop() any {
	n := len(h.items) - 1
	item := h.items[n]
	h.items = h.items[:n]
	return item
}

func (h *scoredHeap) peek() scored { return h.items[0] }

// measureNode resolves a node's vector and measures its distance.
func measureNode[M vector.Measurer](ctx context.Context, vs VectorStore, m M, id uint64) (vector.Distance, error) {
	acc, err := vs.GetVector(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.Measure(acc.VecRef()), nil
}

// greedyClosest walks level edges from cur toward the query until no
// neighbor improves, keeping a single best candidate.
func greedyClosest[M vector.Measurer](ctx context.Context, vs VectorStore, g *GraphBuilder, m M, cur uint64, curDist vector.Distance, level int) (uint64, vector.Distance, error) {
	for changed := true; changed; {
		changed = false
		for _, nb := range g.nodes[cur].Neighbors[level] {
			d, err := measureNode(ctx, vs, m, nb)
			if err != nil {
				return 0, 0, err
			}
			if closer(scored{id: nb, dist: d}, scored{id: cur, dist: curDist}) {
				cur, curDist = nb, d
				changed = true
			}
		}
	}
	return cur, curDist, nil
}

// searchLayer runs bounded best-first search at one level, seeded with the
// current best candidate, and returns up to ef entries sorted closest first.
func searchLayer[M vector.Measurer](ctx context.Context, vs VectorStore, g *GraphBuilder, m M, seed uint64, seedDist vector.Distance, ef int, level int) ([]scored, error) {
	visited := map[uint64]bool{seed: true}
	candidates := &scoredHeap{}
	results := &scoredHeap{max: true}
	heap.Push(candidates, scored{id: seed, dist: seedDist})
	heap.Push(results, scored{id: seed, dist: seedDist})

	for candidates.Len() > 0 {
		cur := heap.Pop(candidates).(scored)
		if results.Len() >= ef && closer(results.peek(), cur) {
			break
		}

		for _, nb := range g.nodes[cur.id].Neighbors[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			d, err := measureNode(ctx, vs, m, nb)
			if err != nil {
				return nil, err
			}
			entry := scored{id: nb, dist: d}
			if results.Len() < ef || closer(entry, results.peek()) {
				heap.Push(candidates, entry)
				heap.Push(results, entry)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := results.items
	sort.Slice(out, func(i, j int) bool { return closer(out[i], out[j]) })
	return out, nil
}

// Insert adds a node to the graph. The node's id is its append position,
// which must equal the id of vec in the store.
func Insert[B vector.MeasureBuilder[M], M vector.Measurer](ctx context.Context, vs VectorStore, g *GraphBuilder, node *Node, vec []float32, efConstruction int) error {
	var builder B
	m := builder.Bind(vec)

	id := uint64(len(g.nodes))
	g.nodes = append(g.nodes, node)

	entryID := g.entryPoint
	entryLevel := g.nodes[entryID].Level

	cur := entryID
	curDist, err := measureNode(ctx, vs, m, cur)
	if err != nil {
		return err
	}

	// Greedy descent through the levels above the new node.
	for level := entryLevel; level > node.Level; level-- {
		cur, curDist, err = greedyClosest(ctx, vs, g, m, cur, curDist, level)
		if err != nil {
			return err
		}
	}

	top := node.Level
	if entryLevel < top {
		top = entryLevel
	}
	for level := top; level >= 0; level-- {
		candidates, err := searchLayer(ctx, vs, g, m, cur, curDist, efConstruction, level)
		if err != nil {
			return err
		}

		// Simple closest heuristic: the M nearest candidates.
		selectCount := g.opts.M
		if len(candidates) < selectCount {
			selectCount = len(candidates)
		}
		selected := make([]uint64, selectCount)
		for i := 0; i < selectCount; i++ {
			selected[i] = candidates[i].id
		}
		node.Neighbors[level] = selected

		for _, nb := range selected {
			nbNode := g.nodes[nb]
			nbNode.Neighbors[level] = append(nbNode.Neighbors[level], id)
			if len(nbNode.Neighbors[level]) > g.opts.M {
				if err := shrinkNeighbors[B, M](ctx, vs, g, nb, level); err != nil {
					return err
				}
			}
		}

		if len(candidates) > 0 {
			cur, curDist = candidates[0].id, candidates[0].dist
		}
	}

	if node.Level > entryLevel {
		g.entryPoint = id
	}
	return nil
}

// shrinkNeighbors trims an overfull adjacency list back to the M closest of
// its current members, measured from the owning node's vector.
func shrinkNeighbors[B vector.MeasureBuilder[M], M vector.Measurer](ctx context.Context, vs VectorStore, g *GraphBuilder, nodeID uint64, level int) error {
	var builder B
	acc, err := vs.GetVector(ctx, nodeID)
	if err != nil {
		return err
	}
	m := builder.Bind(acc.VecRef())

	list := g.nodes[nodeID].Neighbors[level]
	entries := make([]scored, 0, len(list))
	for _, nb := range list {
		d, err := measureNode(ctx, vs, m, nb)
		if err != nil {
			return err
		}
		entries = append(entries, scored{id: nb, dist: d})
	}
	sort.Slice(entries, func(i, j int) bool { return closer(entries[i], entries[j]) })

	kept := make([]uint64, g.opts.M)
	for i := 0; i < g.opts.M; i++ {
		kept[i] = entries[i].id
	}
	g.nodes[nodeID].Neighbors[level] = kept
	return nil
}

// Search returns the ids of the k approximate nearest neighbors of query,
// using a level-0 candidate set of size max(ef, k).
func Search[B vector.MeasureBuilder[M], M vector.Measurer](ctx context.Context, vs VectorStore, g *GraphBuilder, query []float32, k, ef int) ([]uint64, error) {
	var builder B
	m := builder.Bind(query)

	cur := g.entryPoint
	curDist, err := measureNode(ctx, vs, m, cur)
	if err != nil {
		return nil, err
	}
	for level := g.nodes[cur].Level; level > 0; level-- {
		cur, curDist, err = greedyClosest(ctx, vs, g, m, cur, curDist, level)
		if err != nil {
			return nil, err
		}
	}

	if ef < k {
		ef = k
	}
	candidates, err := searchLayer(ctx, vs, g, m, cur, curDist, ef, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	ids := make([]uint64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}
