// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tls

import (
	"net"
	"strconv"

	"github.com/komAAmok/custls/fingerprint"
)

// CustomizerBridge adapts a fingerprint.DefaultCustomizer's four-phase
// pipeline (OnConfigResolve/OnComponentsReady/OnStructReady/OnTransformWireBytes,
// all run inside DefaultCustomizer.BuildPlan) onto the root package's
// FingerprintHooks surface, so template resolution, randomization, and cache
// replay run on every handshake a FingerprintController drives instead of
// sitting unreferenced behind the fingerprint package's own tests.
type CustomizerBridge struct {
	dc        *fingerprint.DefaultCustomizer
	target    fingerprint.TargetKey
	level     fingerprint.RandomizationLevel
	sessionID fingerprint.SessionID

	templateID string
}

// NewCustomizerBridge returns a bridge that resolves plans for target
// through dc, keyed to a freshly minted SessionID so the pipeline's
// resumption-consistency check (§4.6) has a session to track even before
// this connection has presented any resumption ticket. A nil dc gets a
// fresh fingerprint.NewDefaultCustomizer().
func NewCustomizerBridge(dc *fingerprint.DefaultCustomizer, target fingerprint.TargetKey, level fingerprint.RandomizationLevel) *CustomizerBridge {
	if dc == nil {
		dc = fingerprint.NewDefaultCustomizer()
	}
	return &CustomizerBridge{dc: dc, target: target, level: level, sessionID: fingerprint.NewSessionID()}
}

// Hooks returns the FingerprintHooks that drive b's pipeline from the host
// stack's existing ClientHello build hook points.
func (b *CustomizerBridge) Hooks() *FingerprintHooks {
	return &FingerprintHooks{
		OnBeforeBuildClientHello: b.onBeforeBuildClientHello,
		OnAfterBuildClientHello:  b.onAfterBuildClientHello,
	}
}

// onBeforeBuildClientHello resolves a ClientHelloPlan (template selection,
// randomized cipher suites and extension order, cache replay) and overlays
// the result onto profile.ClientHello before buildClientHelloSpec() reads
// it. Extensions is cleared so the overlaid ExtensionOrder actually governs
// buildExtensions' priority (§4.5 struct-ready phase), since a non-empty
// Extensions list otherwise takes precedence.
func (b *CustomizerBridge) onBeforeBuildClientHello(profile *FingerprintProfile) error {
	plan, _, err := b.dc.BuildPlan(fingerprint.ConfigParams{
		Target:    b.target,
		Level:     b.level,
		SessionID: b.sessionID,
	})
	if err != nil {
		return err
	}
	b.templateID = plan.Template.ID
	profile.ClientHello.OverlayResolvedOrder(plan.CipherSuites, plan.ExtensionOrder)
	return nil
}

// onAfterBuildClientHello runs the pipeline's transform-wire-bytes phase
// over the fully encoded ClientHello and, if it rewrote anything, updates
// hello.Raw to match (§4.5, last-resort byte-level quirks).
func (b *CustomizerBridge) onAfterBuildClientHello(hello *clientHelloMsg, raw []byte) error {
	transformed, err := b.dc.Hooks.OnTransformWireBytes(raw)
	if err != nil {
		return err
	}
	hello.Raw = transformed
	return nil
}

// RecordOutcome reports a completed handshake's success/failure for the
// template this bridge last resolved, feeding the FingerprintCache so a
// later BuildPlan call against the same target can replay a working
// ClientHello (§4.4).
func (b *CustomizerBridge) RecordOutcome(success bool) {
	if b.templateID == "" {
		return
	}
	b.dc.RecordOutcome(b.target, b.templateID, success)
}

// TargetKeyFromOrigin parses a "host:port" origin string (as produced by
// FingerprintController.getOrigin) into a fingerprint.TargetKey. A missing
// or malformed port defaults to 443.
func TargetKeyFromOrigin(origin string) fingerprint.TargetKey {
	host, portStr, err := net.SplitHostPort(origin)
	if err != nil {
		return fingerprint.TargetKey{Host: origin, Port: 443}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 443
	}
	return fingerprint.TargetKey{Host: host, Port: port}
}
