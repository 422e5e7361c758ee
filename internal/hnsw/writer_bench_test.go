package hnsw

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/veldt-db/veldt/internal/objstore"
	"github.com/veldt-db/veldt/internal/store"
	"github.com/veldt-db/veldt/internal/vector"
)

func benchWriter(b *testing.B, dim int) *FlatIndexWriter {
	b.Helper()
	objects := objstore.NewMemStore()
	sstable, err := store.NewSstableStore(objects, dim, store.DefaultCacheOptions())
	if err != nil {
		b.Fatal(err)
	}

	w, err := NewFlatIndexWriter(context.Background(),
		NewFlatIndex(FlatIndexConfig{M: 16, EfConstruction: 100, MaxLevel: 16}),
		WriterConfig{
			Dimension:     dim,
			Measure:       vector.KindL2,
			BlockCapBytes: 1 << 20,
			FileCapBytes:  32 << 20,
		}, sstable, objstore.NewCounterIDManager(1))
	if err != nil {
		b.Fatal(err)
	}
	w.rng = rand.New(rand.NewPCG(1, 1))
	return w
}

func BenchmarkWriter_Insert(b *testing.B) {
	const dim = 128
	w := benchWriter(b, dim)
	rng := rand.New(rand.NewPCG(2, 2))
	vec := make([]float32, dim)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range vec {
			vec[j] = rng.Float32()
		}
		if _, err := w.Insert(vec, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWriter_FlushWithGraphBuild(b *testing.B) {
	const dim = 64
	const batch = 256
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(3, 3))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		w := benchWriter(b, dim)
		for j := 0; j < batch; j++ {
			vec := make([]float32, dim)
			for k := range vec {
				vec[k] = rng.Float32()
			}
			if _, err := w.Insert(vec, nil); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()

		if _, err := w.Flush(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
