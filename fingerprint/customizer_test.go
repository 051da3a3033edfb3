// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import "testing"

func TestDefaultCustomizer_BuildPlan_ExplicitTemplate(t *testing.T) {
	d := NewDefaultCustomizer()
	plan, _, err := d.BuildPlan(ConfigParams{
		Target:     TargetKey{Host: "example.com", Port: 443},
		TemplateID: TemplateFirefoxLike,
		Level:      RandomizationLight,
	})
	if err != nil {
		t.Fatalf("BuildPlan() = %v, want nil", err)
	}
	if plan.Template.ID != TemplateFirefoxLike {
		t.Errorf("plan.Template.ID = %q, want %q", plan.Template.ID, TemplateFirefoxLike)
	}
}

func TestDefaultCustomizer_BuildPlan_PrefersCachedWorkingTemplate(t *testing.T) {
	d := NewDefaultCustomizer()
	target := TargetKey{Host: "cached.example.com", Port: 443}
	d.Cache.RecordResult(target, TemplateSafariLike, true)
	d.Cache.RecordResult(target, TemplateSafariLike, true)

	plan, _, err := d.BuildPlan(ConfigParams{Target: target})
	if err != nil {
		t.Fatalf("BuildPlan() = %v, want nil", err)
	}
	if plan.Template.ID != TemplateSafariLike {
		t.Errorf("plan.Template.ID = %q, want %q (cached working template)", plan.Template.ID, TemplateSafariLike)
	}
}

func TestDefaultCustomizer_BuildPlan_UnknownTemplateErrors(t *testing.T) {
	d := NewDefaultCustomizer()
	_, _, err := d.BuildPlan(ConfigParams{
		Target:     TargetKey{Host: "example.com"},
		TemplateID: "does-not-exist",
	})
	if err == nil || !IsKind(err, ErrKindTemplateInvariant) {
		t.Errorf("BuildPlan() = %v, want ErrKindTemplateInvariant", err)
	}
}

func TestDefaultCustomizer_BuildPlan_SessionConsistencyEnforced(t *testing.T) {
	d := NewDefaultCustomizer()
	params := ConfigParams{
		Target:     TargetKey{Host: "example.com"},
		TemplateID: TemplateChromeLike,
		SessionID:  "session-1",
	}
	if _, _, err := d.BuildPlan(params); err != nil {
		t.Fatalf("first BuildPlan() = %v, want nil", err)
	}

	params.TemplateID = TemplateFirefoxLike
	if _, _, err := d.BuildPlan(params); err == nil || !IsKind(err, ErrKindValidation) {
		t.Errorf("second BuildPlan() with a different template on the same session = %v, want ErrKindValidation", err)
	}
}

func TestDefaultCustomizer_BuildPlan_ReplaysCachedSeedExactly(t *testing.T) {
	d := NewDefaultCustomizer()
	target := TargetKey{Host: "replay.example.com", Port: 443}
	params := ConfigParams{Target: target, TemplateID: TemplateChromeLike, Level: RandomizationHigh}

	first, _, err := d.BuildPlan(params)
	if err != nil {
		t.Fatalf("first BuildPlan() = %v, want nil", err)
	}

	// A fresh DefaultCustomizer sharing only the cache, as a new process
	// resuming against a previously seen target would.
	d2 := NewDefaultCustomizer()
	d2.Cache = d.Cache

	second, _, err := d2.BuildPlan(ConfigParams{Target: target, Level: RandomizationHigh})
	if err != nil {
		t.Fatalf("second BuildPlan() = %v, want nil", err)
	}

	if len(first.ExtensionOrder) != len(second.ExtensionOrder) {
		t.Fatalf("ExtensionOrder lengths differ: %v vs %v", first.ExtensionOrder, second.ExtensionOrder)
	}
	for i := range first.ExtensionOrder {
		if first.ExtensionOrder[i] != second.ExtensionOrder[i] {
			t.Errorf("ExtensionOrder[%d] = %#04x, want %#04x (seed replay)", i, second.ExtensionOrder[i], first.ExtensionOrder[i])
		}
	}
	if len(first.CipherSuites) != len(second.CipherSuites) {
		t.Fatalf("CipherSuites lengths differ: %v vs %v", first.CipherSuites, second.CipherSuites)
	}
	for i := range first.CipherSuites {
		if first.CipherSuites[i] != second.CipherSuites[i] {
			t.Errorf("CipherSuites[%d] = %#04x, want %#04x (seed replay)", i, second.CipherSuites[i], first.CipherSuites[i])
		}
	}
}

type recordingCustomizer struct {
	NoopCustomizer
	configResolveCalls int
}

func (c *recordingCustomizer) OnConfigResolve(params *ConfigParams) error {
	c.configResolveCalls++
	return nil
}

func TestCustomizerChain_RunsEachPhaseOnEveryCustomizer(t *testing.T) {
	a := &recordingCustomizer{}
	b := &recordingCustomizer{}
	chain := NewCustomizerChain(a, b)

	params := &ConfigParams{}
	if err := chain.OnConfigResolve(params); err != nil {
		t.Fatalf("OnConfigResolve() = %v, want nil", err)
	}
	if a.configResolveCalls != 1 || b.configResolveCalls != 1 {
		t.Errorf("configResolveCalls = (%d, %d), want (1, 1)", a.configResolveCalls, b.configResolveCalls)
	}
}

type failingCustomizer struct {
	NoopCustomizer
	err error
}

func (c *failingCustomizer) OnConfigResolve(*ConfigParams) error { return c.err }

func TestCustomizerChain_AbsorbsCacheAndRandomizationErrors(t *testing.T) {
	chain := NewCustomizerChain(&failingCustomizer{err: newError(ErrKindCache, "stale")})
	if err := chain.OnConfigResolve(&ConfigParams{}); err != nil {
		t.Errorf("OnConfigResolve() = %v, want nil (absorbed)", err)
	}
}

func TestCustomizerChain_PropagatesFatalErrors(t *testing.T) {
	chain := NewCustomizerChain(&failingCustomizer{err: newError(ErrKindHook, "boom")})
	if err := chain.OnConfigResolve(&ConfigParams{}); err == nil {
		t.Error("OnConfigResolve() = nil, want propagated error")
	}
}
