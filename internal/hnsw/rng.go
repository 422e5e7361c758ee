package hnsw

import (
	cryptorand "crypto/rand"
	"math/rand/v2"
)

// newOSRand returns a level-sampling RNG seeded from the OS entropy source.
func newOSRand() *rand.Rand {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("cannot seed level sampler: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}
