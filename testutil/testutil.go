// Package testutil provides deterministic helpers for tests.
package testutil

import (
	"math/rand"
	"sort"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// RandomVector returns a vector of dims pseudo-random components.
func (r *RNG) RandomVector(dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = r.Float32()
	}
	return v
}

// BruteForceNearest returns the indices of the k vectors closest to
// query by squared L2 distance, nearest first.
func BruteForceNearest(vectors [][]float32, query []float32, k int) []int {
	type scored struct {
		idx  int
		dist float32
	}
	all := make([]scored, len(vectors))
	for i, v := range vectors {
		var sum float32
		for j := range v {
			d := v[j] - query[j]
			sum += d * d
		}
		all[i] = scored{idx: i, dist: sum}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if k > len(all) {
		k = len(all)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].idx
	}
	return out
}
