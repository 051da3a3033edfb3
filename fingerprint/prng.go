// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

// PRNG abstracts the randomness source the Randomization Engine draws on,
// so tests can inject a deterministic sequence instead of depending on the
// production xorshift64 generator (§4.3, §8 testability requirement).
type PRNG interface {
	// NextUint64 returns the next pseudo-random value in the sequence.
	NextUint64() uint64
	// Reseed resets the generator's internal state from seed. A zero seed
	// must not produce a degenerate (all-zero) sequence.
	Reseed(seed uint64)
}

// xorshift64PRNG is the production PRNG: a fast, allocation-free
// non-cryptographic generator. Fingerprint randomization is a naturalness
// concern, not a security boundary, so a non-CSPRNG source is appropriate
// here, mirroring the teacher's own simplePRNG used for GREASE/padding
// jitter rather than crypto/rand.
type xorshift64PRNG struct {
	state uint64
}

// NewXorshift64PRNG returns a production PRNG seeded from seed. A zero seed
// is remapped to a fixed nonzero constant since xorshift64 cannot escape an
// all-zero state.
func NewXorshift64PRNG(seed uint64) PRNG {
	p := &xorshift64PRNG{}
	p.Reseed(seed)
	return p
}

func (p *xorshift64PRNG) Reseed(seed uint64) {
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	p.state = seed
}

func (p *xorshift64PRNG) NextUint64() uint64 {
	x := p.state
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	p.state = x
	return x
}

// Float64 returns a value in [0,1) derived from the PRNG, using the top 53
// bits of the underlying 64-bit draw for uniform distribution.
func Float64(p PRNG) float64 {
	return float64(p.NextUint64()>>11) / (1 << 53)
}

// IntN returns a value in [0,n) derived from the PRNG. n must be positive.
func IntN(p PRNG, n int) int {
	if n <= 0 {
		return 0
	}
	return int(p.NextUint64() % uint64(n))
}

// lcgPRNG is a tiny linear congruential generator, useful in tests that
// need a hand-computable sequence rather than xorshift64's opaque one.
type lcgPRNG struct {
	state uint64
}

// NewLCGPRNG returns a test-only PRNG using the constants from Numerical
// Recipes' 64-bit LCG.
func NewLCGPRNG(seed uint64) PRNG {
	p := &lcgPRNG{state: seed}
	return p
}

func (p *lcgPRNG) Reseed(seed uint64) {
	p.state = seed
}

func (p *lcgPRNG) NextUint64() uint64 {
	p.state = p.state*6364136223846793005 + 1442695040888963407
	return p.state
}
