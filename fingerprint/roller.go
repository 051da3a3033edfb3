// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import "sync/atomic"

// RotationPolicy governs how a TemplateRoller picks the next Template ID
// from a fixed candidate list (§4.2, grounded on the original
// implementation's TemplateRotationPolicy enum).
type RotationPolicy int

const (
	RotationNone RotationPolicy = iota
	RotationRoundRobin
	RotationRandom
	RotationWeightedRandom
)

// WeightedTemplate pairs a template ID with a selection weight, used only
// by RotationWeightedRandom.
type WeightedTemplate struct {
	TemplateID string
	Weight     float64
}

// TemplateRoller selects which Template ID a new connection should use,
// according to a fixed RotationPolicy (§4.2). It holds no reference to the
// TemplateStore itself; callers resolve the returned ID through whichever
// store they use.
type TemplateRoller struct {
	Policy    RotationPolicy
	Templates []WeightedTemplate

	counter uint64 // atomic, used by RotationRoundRobin
	rng     PRNG
}

// NewTemplateRoller returns a roller over templates using policy. rng may
// be nil for RotationNone/RotationRoundRobin, which do not consume
// randomness.
func NewTemplateRoller(policy RotationPolicy, templates []WeightedTemplate, rng PRNG) *TemplateRoller {
	return &TemplateRoller{Policy: policy, Templates: templates, rng: rng}
}

// Next returns the next Template ID to use. With zero configured templates
// it returns "".
func (r *TemplateRoller) Next() string {
	if len(r.Templates) == 0 {
		return ""
	}
	switch r.Policy {
	case RotationNone:
		return r.Templates[0].TemplateID
	case RotationRoundRobin:
		idx := atomic.AddUint64(&r.counter, 1) - 1
		return r.Templates[idx%uint64(len(r.Templates))].TemplateID
	case RotationRandom:
		return r.Templates[IntN(r.rng, len(r.Templates))].TemplateID
	case RotationWeightedRandom:
		return r.weightedPick()
	default:
		return r.Templates[0].TemplateID
	}
}

func (r *TemplateRoller) weightedPick() string {
	var total float64
	for _, w := range r.Templates {
		total += w.Weight
	}
	if total <= 0 {
		return r.Templates[0].TemplateID
	}
	target := Float64(r.rng) * total
	var cum float64
	for _, w := range r.Templates {
		cum += w.Weight
		if target < cum {
			return w.TemplateID
		}
	}
	return r.Templates[len(r.Templates)-1].TemplateID
}
