package learning

import (
	"math/rand/v2"
	"sync"
)

// Rand is the randomness used for exploration and sampling.
// *rand.Rand from math/rand/v2 satisfies it but is not safe for concurrent
// use; wrap it with LockedRand when sharing one.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int { return rand.IntN(n) }

// LockedRand serializes access to a Rand.
type LockedRand struct {
	mu sync.Mutex
	r  Rand
}

// NewLockedRand wraps r.
func NewLockedRand(r Rand) *LockedRand {
	return &LockedRand{r: r}
}

// Float64 implements Rand.
func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// IntN implements Rand.
func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Seeded returns a deterministic, concurrency-safe Rand.
func Seeded(seed uint64) *LockedRand {
	return NewLockedRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	mu, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
