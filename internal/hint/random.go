// SPDX-License-Identifier: MPL-2.0

package hint

import (
	"math/rand/v2"
	"sync"
)

type (
	// RandomSource yields values in [0, 1).
	RandomSource interface {
		Float64() float64
	}

	lockedRand struct {
		mu sync.Mutex
		r  *rand.Rand
	}

	// FixedSource replays a fixed sequence of draws, repeating the last one
	// when exhausted. An empty FixedSource always yields 0.
	FixedSource struct {
		mu    sync.Mutex
		draws []float64
		next  int
	}
)

// NewRandomSource returns a goroutine-safe source seeded from the runtime.
func NewRandomSource() RandomSource {
	return &lockedRand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededSource returns a goroutine-safe source with a fixed seed.
func NewSeededSource(seed uint64) RandomSource {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewFixedSource returns a source that yields draws in order.
func NewFixedSource(draws ...float64) *FixedSource {
	return &FixedSource{draws: draws}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Float64 returns the next draw.
func (f *FixedSource) Float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.draws) == 0 {
		return 0
	}
	i := min(f.next, len(f.draws)-1)
	f.next++
	return f.draws[i]
}

// pick maps a draw in [0, 1) to an index in [0, n).
func pick(src RandomSource, n int) int {
	i := int(src.Float64() * float64(n))
	return max(0, min(i, n-1))
}
