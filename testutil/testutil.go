package testutil

import (
	"fmt"
	"math/rand"
	"strings"
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

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
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

// words is a small vocabulary for generated documents. Stems are distinct so
// generated terms stay distinguishable after normalization.
var words = []string{
	"alpha", "bridge", "cobalt", "delta", "ember", "forest", "granite",
	"harbor", "island", "jungle", "kernel", "lantern", "meadow", "nickel",
	"orchid", "prairie", "quartz", "river", "summit", "timber", "uplink",
	"valley", "willow", "zenith",
}

// Word returns one random vocabulary word.
func (r *RNG) Word() string {
	return words[r.Intn(len(words))]
}

// Sentence returns n random vocabulary words joined by spaces.
func (r *RNG) Sentence(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = r.Word()
	}
	return strings.Join(parts, " ")
}

// Documents generates num documents of wordsEach words. Each document ends
// with a unique marker word ("docN") so tests can target one document
// exactly.
func (r *RNG) Documents(num, wordsEach int) []string {
	docs := make([]string, num)
	for i := range docs {
		docs[i] = fmt.Sprintf("%s doc%d", r.Sentence(wordsEach), i)
	}
	return docs
}
