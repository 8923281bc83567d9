// Package rng provides named, seeded pseudo-random number streams.
// Every stream used during a run derives from one master seed by a
// deterministic per-name transform, so adding a new named stream never
// perturbs the sequence produced by any existing one (spec.md §3, P5).
package rng

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Stream is an independent, infinite pseudo-random sequence. Consuming
// from one stream never alters any other stream's output.
type Stream struct {
	state uint64
}

// newStream seeds a stream deterministically from a 64-bit seed.
func newStream(seed uint64) *Stream {
	return &Stream{state: seed}
}

// Uint64 returns the next 64-bit value in the sequence.
func (s *Stream) Uint64() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Float64 returns the next value in [0, 1), derived from the stream's
// next 64-bit output using the top 53 bits for uniform double
// precision (the standard SplitMix64-to-float64 technique).
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// IntN returns a value in [0, n) for n > 0. Biased for very large n
// relative to 2^64, acceptable for simulation sampling use (not
// cryptographic use).
func (s *Stream) IntN(n int) int {
	if n <= 0 {
		panic("rng: IntN requires n > 0")
	}
	return int(s.Uint64() % uint64(n))
}

// Streams is a named-stream registry bound to a single master seed.
// Stream lookups are guarded by a mutex; the *Stream values it returns
// are not safe for concurrent use, which the engine's single-threaded
// dispatch loop (spec.md §5) never needs.
type Streams struct {
	mu         sync.Mutex
	masterSeed int64
	byName     map[string]*Stream
}

// NewStreams constructs a registry seeded from masterSeed.
func NewStreams(masterSeed int64) *Streams {
	return &Streams{masterSeed: masterSeed, byName: make(map[string]*Stream)}
}

// Stream returns the named stream, creating it on first use. The
// stream's seed is mix(masterSeed, stableHash(name)).
func (s *Streams) Stream(name string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.byName[name]; ok {
		return st
	}
	st := newStream(mix(uint64(s.masterSeed), stableHash(name)))
	s.byName[name] = st
	return st
}

// stableHash derives a stable 64-bit hash of a stream name. xxhash is
// deterministic across runs and platforms, which is required for the
// replay guarantee (spec.md I5) — unlike Go's built-in map iteration
// or fnv variants seeded from process state, it has no such hazard.
func stableHash(name string) uint64 {
	return xxhash.Sum64String(name)
}

// mix reversibly combines the master seed and a name hash into a
// per-stream seed using one round of the SplitMix64 mixing function,
// so distinct names produce well-distributed, independent seeds.
func mix(masterSeed, nameHash uint64) uint64 {
	z := masterSeed ^ (nameHash + 0x9E3779B97F4A7C15 + (masterSeed << 6) + (masterSeed >> 2))
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
