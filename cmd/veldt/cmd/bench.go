package cmd

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veldt-db/veldt/internal/config"
	"github.com/veldt-db/veldt/internal/hnsw"
	"github.com/veldt-db/veldt/internal/objstore"
	"github.com/veldt-db/veldt/internal/store"
	"github.com/veldt-db/veldt/internal/vector"
)

type benchFlags struct {
	n        int
	dim      int
	m        int
	ef       int
	distance string
	queries  int
	topK     int
}

// NewBenchCmd creates the bench command: build an index over random vectors
// in an in-memory object store and report recall against brute force.
func NewBenchCmd() *cobra.Command {
	flags := benchFlags{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Build an in-memory index over random vectors and measure recall",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, flags)
		},
	}

	cmd.Flags().IntVar(&flags.n, "n", 10000, "Number of vectors to insert")
	cmd.Flags().IntVar(&flags.dim, "dim", 128, "Vector dimension")
	cmd.Flags().IntVar(&flags.m, "m", 16, "Max neighbors per node per level")
	cmd.Flags().IntVar(&flags.ef, "ef", 100, "ef_construction")
	cmd.Flags().StringVar(&flags.distance, "distance", "l2", "Distance measure (l1, l2, cosine, inner_product)")
	cmd.Flags().IntVar(&flags.queries, "queries", 100, "Number of recall queries")
	cmd.Flags().IntVar(&flags.topK, "k", 10, "Top-k for recall")

	return cmd
}

func runBench(cmd *cobra.Command, flags benchFlags) error {
	opts := config.DefaultIndexOptions(flags.dim)
	opts.M = flags.m
	opts.EfConstruction = flags.ef
	opts.Distance = flags.distance
	if err := opts.Validate(); err != nil {
		return err
	}
	measure, err := opts.Measure()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sstable, err := store.NewSstableStore(objstore.NewMemStore(), flags.dim, store.DefaultCacheOptions())
	if err != nil {
		return err
	}
	writer, err := hnsw.NewFlatIndexWriter(ctx,
		hnsw.NewFlatIndex(hnsw.FlatIndexConfig{
			M:              opts.M,
			EfConstruction: opts.EfConstruction,
			MaxLevel:       opts.MaxLevel,
		}),
		hnsw.WriterConfig{
			Dimension:     flags.dim,
			Measure:       measure,
			BlockCapBytes: opts.BlockCapBytes,
			FileCapBytes:  opts.FileCapBytes,
		}, sstable, objstore.NewCounterIDManager(1))
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	vecs := make([][]float32, flags.n)
	for i := range vecs {
		v := make([]float32, flags.dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vecs[i] = v
	}

	start := time.Now()
	for i, v := range vecs {
		if _, err := writer.Insert(v, nil); err != nil {
			return err
		}
		if (i+1)%1000 == 0 {
			if err := writer.TryFlush(ctx); err != nil {
				return err
			}
		}
	}
	if _, err := writer.Flush(ctx); err != nil {
		return err
	}
	if _, err := writer.SealCurrentEpoch(); err != nil {
		return err
	}
	buildTime := time.Since(start)
	fmt.Fprintf(out, "built %d x %dd (%s, M=%d, ef=%d) in %s\n",
		flags.n, flags.dim, opts.Distance, opts.M, opts.EfConstruction, buildTime.Round(time.Millisecond))

	// Recall queries; ground truth scans run in parallel.
	type result struct {
		overlap int
	}
	results := make([]result, flags.queries)
	queries := make([][]float32, flags.queries)
	for q := range queries {
		v := make([]float32, flags.dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		queries[q] = v
	}

	start = time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for q := range queries {
		g.Go(func() error {
			got, err := writer.SearchGraph(gctx, queries[q], flags.topK, opts.EfConstruction)
			if err != nil {
				return err
			}
			truth := bruteForceTopK(vecs, queries[q], measure, flags.topK)
			for _, id := range got {
				if truth[id] {
					results[q].overlap++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := 0
	for _, r := range results {
		total += r.overlap
	}
	recall := float64(total) / float64(flags.queries*flags.topK)
	fmt.Fprintf(out, "recall@%d: %.3f over %d queries in %s\n",
		flags.topK, recall, flags.queries, time.Since(start).Round(time.Millisecond))
	return nil
}

func bruteForceTopK(vecs [][]float32, query []float32, measure vector.Kind, k int) map[uint64]bool {
	dist := make([]float32, len(vecs))
	switch measure {
	case vector.KindL1:
		m := vector.L1{}.Bind(query)
		for i, v := range vecs {
			dist[i] = m.Measure(v)
		}
	case vector.KindL2:
		m := vector.L2{}.Bind(query)
		for i, v := range vecs {
			dist[i] = m.Measure(v)
		}
	case vector.KindCosine:
		m := vector.Cosine{}.Bind(query)
		for i, v := range vecs {
			dist[i] = m.Measure(v)
		}
	case vector.KindInnerProduct:
		m := vector.InnerProduct{}.Bind(query)
		for i, v := range vecs {
			dist[i] = m.Measure(v)
		}
	}

	ids := make([]uint64, len(vecs))
	for i := range ids {
		ids[i] = uint64(i)
	}
	sort.Slice(ids, func(a, b int) bool {
		if dist[ids[a]] != dist[ids[b]] {
			return dist[ids[a]] < dist[ids[b]]
		}
		return ids[a] < ids[b]
	})

	truth := make(map[uint64]bool, k)
	for i := 0; i < k && i < len(ids); i++ {
		truth[ids[i]] = true
	}
	return truth
}
