// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"sync"
	"time"
)

// TargetKey identifies the remote endpoint a FingerprintEntry's success
// statistics belong to (§4.4).
type TargetKey struct {
	Host string
	Port int
}

// ClientHelloConfig is the replayable cache-entry payload spec.md §3
// requires: the template a connection to a target resolved to, the final
// cipher-suite and extension order the Randomization Engine produced, the
// opaque per-extension wire payloads keyed by extension type, where GREASE
// values were inserted into ExtensionOrder, the padding length used, and
// the 64-bit seed that drove the randomization. Replaying Seed through the
// same PRNG reproduces CipherSuites/ExtensionOrder exactly, satisfying the
// §4.4 variation-on-read contract without re-resolving the template.
type ClientHelloConfig struct {
	TemplateID      string
	CipherSuites    []uint16
	ExtensionOrder  []uint16
	ExtensionData   map[uint16][]byte
	GREASEPositions []int
	PaddingLength   uint16
	Seed            uint64
}

// Clone returns a deep copy of c, so a caller mutating the result cannot
// corrupt the cached entry. Clone on a nil receiver returns nil.
func (c *ClientHelloConfig) Clone() *ClientHelloConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.CipherSuites = append([]uint16(nil), c.CipherSuites...)
	cp.ExtensionOrder = append([]uint16(nil), c.ExtensionOrder...)
	cp.GREASEPositions = append([]int(nil), c.GREASEPositions...)
	if c.ExtensionData != nil {
		cp.ExtensionData = make(map[uint16][]byte, len(c.ExtensionData))
		for k, v := range c.ExtensionData {
			cp.ExtensionData[k] = append([]byte(nil), v...)
		}
	}
	return &cp
}

// GREASEPositionsOf returns the indices within order that carry a GREASE
// extension type, for populating ClientHelloConfig.GREASEPositions.
func GREASEPositionsOf(order []uint16) []int {
	var pos []int
	for i, t := range order {
		if IsGREASEValue(t) {
			pos = append(pos, i)
		}
	}
	return pos
}

// FingerprintEntry tracks one (target, template) pairing's observed
// handshake outcomes, the resolved ClientHelloConfig to replay on a cache
// hit, and the per-target GREASE/padding history the Randomization Engine
// consults to avoid repeating the exact same perturbation twice in a row
// for the same target (§4.4).
type FingerprintEntry struct {
	TemplateID      string
	SuccessCount    uint64
	FailureCount    uint64
	ReputationScore float64
	LastUsed        time.Time

	Config *ClientHelloConfig

	previousGrease  []uint16
	previousPadding []uint16
}

// reputationK is the recommended smoothing constant from the weighted
// reputation formula (§4.4): reputation = 0.5*(1-w) + r*w, w = n/(n+k).
const reputationK = 4.0

// CalculateReputationScore computes the Bayesian-smoothed reputation score
// for a success/failure pair. With zero observations this returns exactly
// 0.5, the neutral prior.
func CalculateReputationScore(success, failure uint64) float64 {
	n := float64(success + failure)
	if n == 0 {
		return 0.5
	}
	w := n / (n + reputationK)
	r := float64(success) / n
	return 0.5*(1-w) + r*w
}

func (e *FingerprintEntry) recompute() {
	e.ReputationScore = CalculateReputationScore(e.SuccessCount, e.FailureCount)
}

// FingerprintCache holds a bounded, per-target set of FingerprintEntry
// records, evicting the lowest-reputation entry (ties broken by recency of
// insertion) when a new target would exceed MaxSize (§4.4).
type FingerprintCache struct {
	mu      sync.Mutex
	MaxSize int

	entries map[TargetKey]map[string]*FingerprintEntry // target -> templateID -> entry
	order   []TargetKey                                 // insertion order, for recency tie-breaks
}

// NewFingerprintCache returns an empty cache bounded to maxSize distinct
// targets. A non-positive maxSize means unbounded.
func NewFingerprintCache(maxSize int) *FingerprintCache {
	return &FingerprintCache{
		MaxSize: maxSize,
		entries: make(map[TargetKey]map[string]*FingerprintEntry),
	}
}

// GetWorkingFingerprint returns a clone of the highest-reputation
// ClientHelloConfig recorded for target, or (nil, false) if nothing is
// cached yet. Replaying the returned Seed through the PRNG before rebuilding
// the plan reproduces the same cipher-suite order and extension-type
// multiset modulo GREASE position (§4.4, §8). An entry recorded through the
// legacy RecordResult path (no ClientHelloConfig stored yet) still resolves,
// carrying only TemplateID, so a caller can fall back to fresh resolution.
func (c *FingerprintCache) GetWorkingFingerprint(target TargetKey) (*ClientHelloConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTemplate, ok := c.entries[target]
	if !ok || len(byTemplate) == 0 {
		return nil, false
	}
	var best *FingerprintEntry
	for _, e := range byTemplate {
		if best == nil || e.ReputationScore > best.ReputationScore {
			best = e
		}
	}
	if best.Config != nil {
		return best.Config.Clone(), true
	}
	return &ClientHelloConfig{TemplateID: best.TemplateID}, true
}

// RecordResult updates (creating if necessary) the entry for (target,
// templateID) with a new handshake outcome and refreshes its LastUsed
// timestamp, the basis for evictIfFull's tie-break (§4.4).
func (c *FingerprintCache) RecordResult(target TargetKey, templateID string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(target, templateID)
	if success {
		e.SuccessCount++
	} else {
		e.FailureCount++
	}
	e.recompute()
	e.LastUsed = time.Now()
}

// StoreClientHelloConfig records cfg as the resolved ClientHelloConfig for
// (target, cfg.TemplateID), so a later GetWorkingFingerprint call for the
// same target replays it instead of resolving a fresh one.
func (c *FingerprintCache) StoreClientHelloConfig(target TargetKey, cfg *ClientHelloConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(target, cfg.TemplateID)
	e.Config = cfg.Clone()
	e.LastUsed = time.Now()
}

// evictIfFull drops the lowest-reputation target (the minimum over each
// target's best entry) when the cache is at capacity; ties are broken by
// evicting the target whose best entry has the oldest LastUsed (§4.4). Must
// be called with c.mu held.
func (c *FingerprintCache) evictIfFull() {
	if c.MaxSize <= 0 || len(c.entries) < c.MaxSize {
		return
	}
	var worst TargetKey
	var worstScore = 2.0 // above any legal reputation score
	var worstLastUsed time.Time
	found := false
	for t, byTemplate := range c.entries {
		var best float64 = -1
		var newest time.Time
		for _, e := range byTemplate {
			if e.ReputationScore > best {
				best = e.ReputationScore
			}
			if e.LastUsed.After(newest) {
				newest = e.LastUsed
			}
		}
		if !found || best < worstScore || (best == worstScore && newest.Before(worstLastUsed)) {
			worstScore = best
			worst = t
			worstLastUsed = newest
			found = true
		}
	}
	if !found {
		return
	}
	delete(c.entries, worst)
	for i, t := range c.order {
		if t == worst {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// GetStats returns a defensive copy of every entry cached for target.
func (c *FingerprintCache) GetStats(target TargetKey) []FingerprintEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTemplate, ok := c.entries[target]
	if !ok {
		return nil
	}
	out := make([]FingerprintEntry, 0, len(byTemplate))
	for _, e := range byTemplate {
		cp := *e
		cp.previousGrease = append([]uint16(nil), e.previousGrease...)
		cp.previousPadding = append([]uint16(nil), e.previousPadding...)
		out = append(out, cp)
	}
	return out
}

// GetAllTargets returns every target currently tracked, in insertion order.
func (c *FingerprintCache) GetAllTargets() []TargetKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TargetKey, len(c.order))
	copy(out, c.order)
	return out
}

// TrackGREASEValue records a GREASE value used for (target, templateID), so
// a later randomization pass can avoid repeating it.
func (c *FingerprintCache) TrackGREASEValue(target TargetKey, templateID string, v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(target, templateID)
	e.previousGrease = appendBounded(e.previousGrease, v, 8)
}

// PreviousGREASEValues returns the recent GREASE values recorded for
// (target, templateID).
func (c *FingerprintCache) PreviousGREASEValues(target TargetKey, templateID string) []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTemplate, ok := c.entries[target]
	if !ok {
		return nil
	}
	e, ok := byTemplate[templateID]
	if !ok {
		return nil
	}
	return append([]uint16(nil), e.previousGrease...)
}

// TrackPaddingLength records a padding length used for (target, templateID).
func (c *FingerprintCache) TrackPaddingLength(target TargetKey, templateID string, length uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(target, templateID)
	e.previousPadding = appendBounded(e.previousPadding, length, 8)
}

// PreviousPaddingLengths returns the recent padding lengths recorded for
// (target, templateID).
func (c *FingerprintCache) PreviousPaddingLengths(target TargetKey, templateID string) []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTemplate, ok := c.entries[target]
	if !ok {
		return nil
	}
	e, ok := byTemplate[templateID]
	if !ok {
		return nil
	}
	return append([]uint16(nil), e.previousPadding...)
}

// entryLocked returns (creating if necessary) the entry for (target,
// templateID). Must be called with c.mu held.
func (c *FingerprintCache) entryLocked(target TargetKey, templateID string) *FingerprintEntry {
	byTemplate, ok := c.entries[target]
	if !ok {
		c.evictIfFull()
		byTemplate = make(map[string]*FingerprintEntry)
		c.entries[target] = byTemplate
		c.order = append(c.order, target)
	}
	e, ok := byTemplate[templateID]
	if !ok {
		e = &FingerprintEntry{TemplateID: templateID}
		byTemplate[templateID] = e
	}
	return e
}

func appendBounded(s []uint16, v uint16, max int) []uint16 {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// DefaultCache is the process-wide FingerprintCache, bounded to 1000
// targets per the recommended default (§4.4).
var DefaultCache = NewFingerprintCache(1000)
