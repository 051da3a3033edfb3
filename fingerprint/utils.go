// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"fmt"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// SampleFromPMF draws a value from a discrete probability mass function
// using p for randomness. Weights need not be pre-normalized; SampleFromPMF
// normalizes against their sum. An empty pmf returns the zero value.
func SampleFromPMF(p PRNG, pmf []PMFEntry) uint16 {
	if len(pmf) == 0 {
		return 0
	}
	var total float64
	for _, e := range pmf {
		total += e.Weight
	}
	if total <= 0 {
		return pmf[0].Value
	}
	r := Float64(p) * total
	var cum float64
	for _, e := range pmf {
		cum += e.Weight
		if r < cum {
			return e.Value
		}
	}
	return pmf[len(pmf)-1].Value
}

// SampleWithPowerOf2Bias draws a padding length in [d.MinLength,
// d.MaxLength] biased toward powers of two, per the strength of d.PowerOf2Bias
// (0 = uniform, 1 = always snap to the nearest power of two at or below the
// uniform draw). When d.PMF is non-empty, it takes precedence and this
// power-of-two shaping is skipped.
func SampleWithPowerOf2Bias(p PRNG, d PaddingDistribution) uint16 {
	if len(d.PMF) > 0 {
		return SampleFromPMF(p, d.PMF)
	}
	if d.MaxLength <= d.MinLength {
		return d.MinLength
	}
	span := uint64(d.MaxLength - d.MinLength)
	draw := d.MinLength + uint16(p.NextUint64()%(span+1))
	if Float64(p) >= d.PowerOf2Bias {
		return draw
	}
	pow := uint16(1)
	for pow*2 <= draw && pow*2 >= d.MinLength {
		pow *= 2
	}
	if pow < d.MinLength {
		return draw
	}
	return pow
}

// ValidateExtensionOrder reports the first invariant violation in order —
// duplicate non-GREASE entries, or a misplaced pre_shared_key — without
// consulting a NaturalnessFilter. It is the order-only half of what
// Template.Validate checks on a whole Template.
func ValidateExtensionOrder(order []uint16) error {
	seen := make(map[uint16]bool, len(order))
	for i, t := range order {
		if t == ExtensionPreSharedKey && i != len(order)-1 {
			return newError(ErrKindValidation, "pre_shared_key extension must be last")
		}
		if IsGREASEValue(t) {
			continue
		}
		if seen[t] {
			return newError(ErrKindValidation, fmt.Sprintf("duplicate extension type %#04x", t))
		}
		seen[t] = true
	}
	return nil
}

// HTTP2Settings mirrors the small set of HTTP/2 SETTINGS values a browser
// fingerprint cares about and that co-vary with its TLS ClientHello shape
// (§4.7).
type HTTP2Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// ChromeHTTP2Settings returns the SETTINGS frame values Chromium-family
// browsers send.
func ChromeHTTP2Settings() HTTP2Settings {
	return HTTP2Settings{
		HeaderTableSize:      65536,
		EnablePush:           false,
		MaxConcurrentStreams: 1000,
		InitialWindowSize:    6291456,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    262144,
	}
}

// FirefoxHTTP2Settings returns the SETTINGS frame values Firefox sends.
func FirefoxHTTP2Settings() HTTP2Settings {
	return HTTP2Settings{
		HeaderTableSize:      65536,
		EnablePush:           false,
		MaxConcurrentStreams: 0, // unbounded, Firefox omits this setting
		InitialWindowSize:    131072,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    393216,
	}
}

// Encode serializes s as an HTTP/2 SETTINGS frame payload using the same
// frame writer the host stack's HTTP/2 transport uses, so the emitted bytes
// are exactly what golang.org/x/net/http2 would itself produce.
func (s HTTP2Settings) Encode() []byte {
	settings := []http2.Setting{
		{ID: http2.SettingHeaderTableSize, Val: s.HeaderTableSize},
		{ID: http2.SettingMaxFrameSize, Val: s.MaxFrameSize},
		{ID: http2.SettingMaxHeaderListSize, Val: s.MaxHeaderListSize},
		{ID: http2.SettingInitialWindowSize, Val: s.InitialWindowSize},
	}
	if !s.EnablePush {
		settings = append(settings, http2.Setting{ID: http2.SettingEnablePush, Val: 0})
	}
	if s.MaxConcurrentStreams != 0 {
		settings = append(settings, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: s.MaxConcurrentStreams})
	}

	var framer bufWriter
	fr := http2.NewFramer(&framer, nil)
	_ = fr.WriteSettings(settings...)
	return framer.buf
}

// bufWriter is the minimal io.Writer http2.Framer needs to serialize a
// frame into an in-memory buffer.
type bufWriter struct{ buf []byte }

func (w *bufWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// PrioritySpec describes an HTTP/2 PRIORITY frame's dependency weighting,
// which browsers vary alongside their pseudo-header order (§4.7).
type PrioritySpec struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8
}

// Encode serializes p as an HTTP/2 PRIORITY frame payload.
func (p PrioritySpec) Encode() []byte {
	var framer bufWriter
	fr := http2.NewFramer(&framer, nil)
	_ = fr.WritePriority(1, http2.PriorityParam{
		StreamDep: p.StreamDep,
		Exclusive: p.Exclusive,
		Weight:    p.Weight,
	})
	return framer.buf
}

// EncodePseudoHeaders HPACK-encodes a request's pseudo-headers in the order
// a Template specifies, so that request framing matches the advertised
// fingerprint end to end, not just at the TLS layer.
func EncodePseudoHeaders(order []string, values map[string]string) []byte {
	var buf bufWriter
	enc := hpack.NewEncoder(&buf)
	for _, name := range order {
		v, ok := values[name]
		if !ok {
			continue
		}
		_ = enc.WriteField(hpack.HeaderField{Name: name, Value: v})
	}
	return buf.buf
}

// TimingJitterConfig describes the optional per-record delay the customizer
// pipeline's transform-wire-bytes phase may apply to avoid a suspiciously
// uniform send cadence (§4.4).
type TimingJitterConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Probability float64
}

// NewTimingJitterConfig constructs a TimingJitterConfig from microsecond
// bounds and an application probability, mirroring the shape the original
// implementation's timing-jitter constructor takes.
func NewTimingJitterConfig(minMicros, maxMicros int64, probability float64) TimingJitterConfig {
	return TimingJitterConfig{
		MinDelay:    time.Duration(minMicros) * time.Microsecond,
		MaxDelay:    time.Duration(maxMicros) * time.Microsecond,
		Probability: probability,
	}
}

// Apply returns the delay to sleep before the next write, or zero if no
// delay should be applied this time.
func (c TimingJitterConfig) Apply(p PRNG) time.Duration {
	if c.Probability <= 0 || c.MaxDelay <= c.MinDelay {
		return 0
	}
	if Float64(p) >= c.Probability {
		return 0
	}
	span := int64(c.MaxDelay - c.MinDelay)
	return c.MinDelay + time.Duration(p.NextUint64()%uint64(span))
}
