package engine

import (
	"hash/fnv"
	"math/rand"
	"sync"
)

// Bucketer maps a (experiment, visitor) pair to a point in [0, 100) used
// for the weighted variant draw. Implementations must be safe for
// concurrent use.
type Bucketer interface {
	Bucket(experimentID, visitorID string) float64
}

// HashBucketer derives the bucket deterministically from the pair, so the
// same visitor always lands in the same bucket even before an assignment
// is persisted. This is the default.
type HashBucketer struct{}

func (HashBucketer) Bucket(experimentID, visitorID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(experimentID))
	h.Write([]byte{':'})
	h.Write([]byte(visitorID))
	return float64(h.Sum64()%100000) / 1000.0
}

// RandBucketer draws uniformly from the given source. Useful when
// assignment should not correlate across experiments sharing visitors.
type RandBucketer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandBucketer(seed int64) *RandBucketer {
	return &RandBucketer{rnd: rand.New(rand.NewSource(seed))}
}

func (b *RandBucketer) Bucket(_, _ string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rnd.Float64() * 100
}

// FixedBucketer always returns the same bucket. Test helper.
type FixedBucketer float64

func (b FixedBucketer) Bucket(_, _ string) float64 {
	return float64(b)
}
