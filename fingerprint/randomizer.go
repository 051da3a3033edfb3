// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

// maxNaturalnessRetries bounds how many times the Randomization Engine
// reshuffles before giving up and reverting to the template's unperturbed
// lists (§4.3: "retry budget, then degrade gracefully").
const maxNaturalnessRetries = 5

// RandomizationEngine applies a Template's GreasePattern and
// NaturalnessFilter to produce a perturbed-but-plausible extension order,
// cipher-suite list, and padding length for one handshake (§4.3).
type RandomizationEngine struct {
	Level  RandomizationLevel
	Filter NaturalnessFilter
	RNG    PRNG
}

// NewRandomizationEngine returns an engine at the given level, using rng for
// all randomness draws.
func NewRandomizationEngine(level RandomizationLevel, filter NaturalnessFilter, rng PRNG) *RandomizationEngine {
	return &RandomizationEngine{Level: level, Filter: filter, RNG: rng}
}

// RandomizeExtensionOrder returns a perturbed copy of t's extension order.
// RandomizationNone returns an unmodified copy. Other levels shuffle the
// ExtensionStandard/ExtensionOptional-classified entries (ExtensionCritical
// entries keep their absolute position) and inject GREASE values per
// t.GREASE, retrying up to maxNaturalnessRetries times if the result
// violates the NaturalnessFilter before falling back to the unperturbed
// order (an ErrRandomizationDegraded condition, which the caller absorbs
// per Kind.Absorbed()).
func (e *RandomizationEngine) RandomizeExtensionOrder(t *Template) ([]uint16, error) {
	base := append([]uint16(nil), t.ExtensionOrder...)
	if e.Level == RandomizationNone {
		return base, nil
	}

	classOf := make(map[uint16]ExtensionClass, len(t.Extensions))
	for _, ent := range t.Extensions {
		classOf[ent.Type] = ent.Class
	}

	for attempt := 0; attempt < maxNaturalnessRetries; attempt++ {
		candidate := e.shuffleOnce(base, classOf)
		candidate = e.injectExtensionGrease(candidate, t.GREASE)
		if err := e.Filter.satisfies(candidate); err == nil {
			if err := ValidateExtensionOrder(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	// Degrade: revert to the template's own order, which is guaranteed
	// naturalness-filter-safe since it shipped with the template.
	return base, newError(ErrKindRandomizationDegraded, "naturalness filter unsatisfied after retry budget").withTemplate(t.ID)
}

// shuffleOnce permutes the reorderable positions of order in place on a
// copy, leaving ExtensionCritical entries fixed. The degree of shuffling
// scales with e.Level: Light swaps a bounded number of adjacent reorderable
// pairs, Medium/High perform a fuller Fisher-Yates pass restricted to
// reorderable indices.
func (e *RandomizationEngine) shuffleOnce(order []uint16, classOf map[uint16]ExtensionClass) []uint16 {
	out := append([]uint16(nil), order...)
	var movable []int
	for i, t := range out {
		if IsGREASEValue(t) {
			continue
		}
		if classOf[t] == ExtensionCritical {
			continue
		}
		movable = append(movable, i)
	}
	if len(movable) < 2 {
		return out
	}

	swaps := len(movable)
	if e.Level == RandomizationLight {
		swaps = 1 + IntN(e.RNG, len(movable)/2+1)
	}
	for s := 0; s < swaps; s++ {
		i := movable[IntN(e.RNG, len(movable))]
		j := movable[IntN(e.RNG, len(movable))]
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// injectExtensionGrease probabilistically inserts a GREASE extension type
// at one of pattern's preferred normalized positions.
func (e *RandomizationEngine) injectExtensionGrease(order []uint16, pattern GreasePattern) []uint16 {
	if pattern.ExtensionProbability <= 0 || Float64(e.RNG) >= pattern.ExtensionProbability {
		return order
	}
	values := pattern.values()
	v := values[IntN(e.RNG, len(values))]
	pos := e.positionFor(pattern.ExtensionPositions, len(order))

	out := make([]uint16, 0, len(order)+1)
	out = append(out, order[:pos]...)
	out = append(out, v)
	out = append(out, order[pos:]...)
	return out
}

// RandomizeCipherSuites returns t's cipher-suite list with a GREASE value
// probabilistically injected, per t.GREASE.CipherSuiteProbability and
// CipherSuitePositions.
func (e *RandomizationEngine) RandomizeCipherSuites(t *Template) []uint16 {
	base := append([]uint16(nil), t.CipherSuites...)
	if e.Level == RandomizationNone {
		return base
	}
	if t.GREASE.CipherSuiteProbability <= 0 || Float64(e.RNG) >= t.GREASE.CipherSuiteProbability {
		return base
	}
	values := t.GREASE.values()
	v := values[IntN(e.RNG, len(values))]
	pos := e.positionFor(t.GREASE.CipherSuitePositions, len(base))

	out := make([]uint16, 0, len(base)+1)
	out = append(out, base[:pos]...)
	out = append(out, v)
	out = append(out, base[pos:]...)
	return out
}

// RandomizePadding draws a padding length from t.Padding, scaled by
// e.Level: RandomizationNone always returns the distribution's midpoint.
func (e *RandomizationEngine) RandomizePadding(t *Template) uint16 {
	if e.Level == RandomizationNone {
		return (t.Padding.MinLength + t.Padding.MaxLength) / 2
	}
	return SampleWithPowerOf2Bias(e.RNG, t.Padding)
}

// positionFor maps a normalized [0,1] position list to a concrete slice
// index, picking one entry of positions at random (or index 0 of length if
// positions is empty).
func (e *RandomizationEngine) positionFor(positions []float64, length int) int {
	if length == 0 {
		return 0
	}
	if len(positions) == 0 {
		return IntN(e.RNG, length+1)
	}
	p := positions[IntN(e.RNG, len(positions))]
	idx := int(p * float64(length))
	if idx < 0 {
		idx = 0
	}
	if idx > length {
		idx = length
	}
	return idx
}
