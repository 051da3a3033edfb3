// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import "testing"

func TestSampleFromPMF_RespectsZeroWeightEntries(t *testing.T) {
	pmf := []PMFEntry{{Value: 10, Weight: 0}, {Value: 20, Weight: 1}}
	p := NewXorshift64PRNG(5)
	for i := 0; i < 50; i++ {
		if got := SampleFromPMF(p, pmf); got != 20 {
			t.Errorf("SampleFromPMF() = %d, want 20 (zero-weight entry must never be drawn)", got)
		}
	}
}

func TestSampleFromPMF_EmptyReturnsZero(t *testing.T) {
	if got := SampleFromPMF(NewXorshift64PRNG(1), nil); got != 0 {
		t.Errorf("SampleFromPMF(nil) = %d, want 0", got)
	}
}

func TestSampleWithPowerOf2Bias_StaysWithinBounds(t *testing.T) {
	d := PaddingDistribution{MinLength: 10, MaxLength: 100, PowerOf2Bias: 0.9}
	p := NewXorshift64PRNG(13)
	for i := 0; i < 100; i++ {
		got := SampleWithPowerOf2Bias(p, d)
		if got < d.MinLength || got > d.MaxLength {
			t.Errorf("SampleWithPowerOf2Bias() = %d, want in [%d,%d]", got, d.MinLength, d.MaxLength)
		}
	}
}

func TestSampleWithPowerOf2Bias_PMFTakesPrecedence(t *testing.T) {
	d := PaddingDistribution{
		MinLength: 0, MaxLength: 1000, PowerOf2Bias: 1.0,
		PMF: []PMFEntry{{Value: 7, Weight: 1}},
	}
	p := NewXorshift64PRNG(1)
	if got := SampleWithPowerOf2Bias(p, d); got != 7 {
		t.Errorf("SampleWithPowerOf2Bias() = %d, want 7 (PMF overrides power-of-2 shaping)", got)
	}
}

func TestValidateExtensionOrder_RejectsDuplicate(t *testing.T) {
	if err := ValidateExtensionOrder([]uint16{1, 2, 1}); err == nil {
		t.Fatal("ValidateExtensionOrder() = nil, want error for duplicate")
	}
}

func TestValidateExtensionOrder_AllowsRepeatedGREASE(t *testing.T) {
	if err := ValidateExtensionOrder([]uint16{0x0a0a, 0x0a0a, 1}); err != nil {
		t.Errorf("ValidateExtensionOrder() = %v, want nil", err)
	}
}

func TestValidateExtensionOrder_RejectsMisplacedPSK(t *testing.T) {
	if err := ValidateExtensionOrder([]uint16{ExtensionPreSharedKey, 1, 2}); err == nil {
		t.Fatal("ValidateExtensionOrder() = nil, want error for misplaced pre_shared_key")
	}
}

func TestValidateExtensionOrder_AllowsPSKLast(t *testing.T) {
	if err := ValidateExtensionOrder([]uint16{1, 2, ExtensionPreSharedKey}); err != nil {
		t.Errorf("ValidateExtensionOrder() = %v, want nil", err)
	}
}

func TestHTTP2Settings_EncodeProducesNonEmptyFrame(t *testing.T) {
	settings := ChromeHTTP2Settings()
	encoded := settings.Encode()
	if len(encoded) == 0 {
		t.Error("Encode() returned an empty frame")
	}
}

func TestTimingJitterConfig_ZeroProbabilityNeverDelays(t *testing.T) {
	c := NewTimingJitterConfig(100, 200, 0)
	p := NewXorshift64PRNG(1)
	for i := 0; i < 20; i++ {
		if got := c.Apply(p); got != 0 {
			t.Errorf("Apply() = %v, want 0 with zero probability", got)
		}
	}
}

func TestTimingJitterConfig_AlwaysWithinBounds(t *testing.T) {
	c := NewTimingJitterConfig(100, 200, 1.0)
	p := NewXorshift64PRNG(1)
	for i := 0; i < 50; i++ {
		got := c.Apply(p)
		if got < c.MinDelay || got >= c.MaxDelay {
			t.Errorf("Apply() = %v, want in [%v,%v)", got, c.MinDelay, c.MaxDelay)
		}
	}
}
