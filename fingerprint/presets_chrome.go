// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

// Wire-format cipher suite identifiers shared across the Chromium-family and
// Firefox presets (§4.2). Values match the IANA TLS Cipher Suite registry.
const (
	csTLS_AES_128_GCM_SHA256                      uint16 = 0x1301
	csTLS_AES_256_GCM_SHA384                      uint16 = 0x1302
	csTLS_CHACHA20_POLY1305_SHA256                 uint16 = 0x1303
	csTLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256      uint16 = 0xc02b
	csTLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256        uint16 = 0xc02f
	csTLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384      uint16 = 0xc02c
	csTLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384        uint16 = 0xc030
	csTLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305       uint16 = 0xcca9
	csTLS_ECDHE_RSA_WITH_CHACHA20_POLY1305         uint16 = 0xcca8
	csTLS_ECDHE_RSA_WITH_AES_128_CBC_SHA           uint16 = 0xc013
	csTLS_ECDHE_RSA_WITH_AES_256_CBC_SHA           uint16 = 0xc014
	csTLS_RSA_WITH_AES_128_GCM_SHA256              uint16 = 0x009c
	csTLS_RSA_WITH_AES_256_GCM_SHA384              uint16 = 0x009d
	csTLS_RSA_WITH_AES_128_CBC_SHA                 uint16 = 0x002f
	csTLS_RSA_WITH_AES_256_CBC_SHA                 uint16 = 0x0035
	csTLS_EMPTY_RENEGOTIATION_INFO_SCSV            uint16 = 0x00ff
)

// Named-group identifiers, matching the host stack's CurveID constants in
// common.go.
const (
	groupX25519    uint16 = 29
	groupP256      uint16 = 23
	groupP384      uint16 = 24
	groupP521      uint16 = 25
	groupFFDHE2048 uint16 = 0x0100
)

// Extension-type identifiers not already defined in extensions.go, matching
// common.go's constants.
const (
	extServerName           uint16 = 0
	extStatusRequestType     uint16 = 5
	extSupportedGroups      uint16 = 10
	extECPointFormats       uint16 = 11
	extSignatureAlgorithms  uint16 = 13
	extALPN                 uint16 = 16
	extExtendedMasterSecret uint16 = 23
	extRecordSizeLimit      uint16 = 28
	extSessionTicket        uint16 = 35
	extExtendedRandom       uint16 = 40
	extPreSharedKey         uint16 = 41
	extEarlyData            uint16 = 42
	extSupportedVersions    uint16 = 43
	extCookie               uint16 = 44
	extPSKKeyExchangeModes  uint16 = 45
	extCertificateAuthorities uint16 = 47
	extSignatureAlgorithmsCert uint16 = 50
	extKeyShare             uint16 = 51
	extRenegotiationInfo    uint16 = 0xff01
)

// chromeLikeTemplate reproduces the Chromium-family ClientHello shape (§4.2):
// 17 TLS 1.3-first cipher suites, 16 extensions, five supported groups with
// x25519 first, GREASE probability 1.0 front-third-biased, padding biased
// toward the low end of [0,1500], h2/http1.1 ALPN, and the Chromium HTTP/2
// pseudo-header order (method, authority, scheme, path). Grounded on the
// host stack's registered chrome_133_windows_11 profile.
func chromeLikeTemplate() *Template {
	return &Template{
		ID:          TemplateChromeLike,
		Name:        "Chrome-like",
		Description: "Chromium-family ClientHello shape",
		Source:      "chrome_133_windows_11",

		CipherSuites: []uint16{
			csTLS_AES_128_GCM_SHA256,
			csTLS_AES_256_GCM_SHA384,
			csTLS_CHACHA20_POLY1305_SHA256,
			csTLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			csTLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			csTLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			csTLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			csTLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			csTLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			csTLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
			csTLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			csTLS_RSA_WITH_AES_128_GCM_SHA256,
			csTLS_RSA_WITH_AES_256_GCM_SHA384,
			csTLS_RSA_WITH_AES_128_CBC_SHA,
			csTLS_RSA_WITH_AES_256_CBC_SHA,
			csTLS_EMPTY_RENEGOTIATION_INFO_SCSV,
		},

		ExtensionOrder: []uint16{
			extServerName,
			extExtendedMasterSecret,
			extRenegotiationInfo,
			extSupportedGroups,
			extECPointFormats,
			extSessionTicket,
			ExtTypeApplicationSettings,
			ExtTypeStatusRequest,
			ExtTypeSignedCertificateTimestamp,
			extALPN,
			extSignatureAlgorithms,
			extKeyShare,
			extPSKKeyExchangeModes,
			extSupportedVersions,
			ExtTypeCompressCertificate,
			ExtTypePadding,
		},
		Extensions: []ExtensionEntry{
			{Type: extServerName, Class: ExtensionCritical},
			{Type: extExtendedMasterSecret, Class: ExtensionStandard},
			{Type: extRenegotiationInfo, Class: ExtensionCritical},
			{Type: extSupportedGroups, Class: ExtensionStandard},
			{Type: extECPointFormats, Class: ExtensionStandard},
			{Type: extSessionTicket, Class: ExtensionStandard},
			{Type: ExtTypeApplicationSettings, Class: ExtensionOptional},
			{Type: ExtTypeStatusRequest, Class: ExtensionOptional},
			{Type: ExtTypeSignedCertificateTimestamp, Class: ExtensionOptional},
			{Type: extALPN, Class: ExtensionStandard},
			{Type: extSignatureAlgorithms, Class: ExtensionStandard},
			{Type: extKeyShare, Class: ExtensionStandard},
			{Type: extPSKKeyExchangeModes, Class: ExtensionStandard},
			{Type: extSupportedVersions, Class: ExtensionCritical},
			{Type: ExtTypeCompressCertificate, Class: ExtensionOptional},
			{Type: ExtTypePadding, Class: ExtensionCritical},
		},

		SupportedGroups: []uint16{groupX25519, groupP256, groupP384, groupP521, groupFFDHE2048},
		SignatureAlgos: []uint16{
			0x0403, 0x0804, 0x0401, 0x0503, 0x0805, 0x0501, 0x0806, 0x0601, 0x0201,
		},
		GREASE: GreasePattern{
			CipherSuiteProbability: 1.0,
			CipherSuitePositions:   []float64{0.0},
			ExtensionProbability:   1.0,
			ExtensionPositions:     []float64{0.0, 0.15, 0.9},
		},
		Padding: PaddingDistribution{
			MinLength:    0,
			MaxLength:    1500,
			PowerOf2Bias: 0.7,
			PMF: []PMFEntry{
				{Value: 0, Weight: 0.3},
				{Value: 64, Weight: 0.2},
				{Value: 128, Weight: 0.2},
				{Value: 256, Weight: 0.15},
				{Value: 512, Weight: 0.15},
			},
		},
		ALPNProtocols:          [][]byte{[]byte("h2"), []byte("http/1.1")},
		HTTP2PseudoHeaderOrder: []string{":method", ":authority", ":scheme", ":path"},
		SupportedVersions:      []uint16{0x0304, 0x0303},
		KeyShareGroups:         []uint16{groupX25519},
	}
}

// edgeLikeTemplate shares Chrome-like's cipher-suite set (Chromium-based)
// but reorders the sixteen extensions to match Edge's distinct emission
// order (§4.2).
func edgeLikeTemplate() *Template {
	t := chromeLikeTemplate()
	t.ID = TemplateEdgeLike
	t.Name = "Edge-like"
	t.Description = "Chromium-based ClientHello shape with Edge extension ordering"
	t.Source = "edge_130_windows_11"

	t.ExtensionOrder = []uint16{
		extServerName,
		extRenegotiationInfo,
		extExtendedMasterSecret,
		extSessionTicket,
		extSignatureAlgorithms,
		extSupportedGroups,
		extECPointFormats,
		extALPN,
		ExtTypeStatusRequest,
		extKeyShare,
		extSupportedVersions,
		extPSKKeyExchangeModes,
		ExtTypeSignedCertificateTimestamp,
		ExtTypeApplicationSettings,
		ExtTypeCompressCertificate,
		ExtTypePadding,
	}
	t.Extensions = []ExtensionEntry{
		{Type: extServerName, Class: ExtensionCritical},
		{Type: extRenegotiationInfo, Class: ExtensionCritical},
		{Type: extExtendedMasterSecret, Class: ExtensionStandard},
		{Type: extSessionTicket, Class: ExtensionStandard},
		{Type: extSignatureAlgorithms, Class: ExtensionStandard},
		{Type: extSupportedGroups, Class: ExtensionStandard},
		{Type: extECPointFormats, Class: ExtensionStandard},
		{Type: extALPN, Class: ExtensionStandard},
		{Type: ExtTypeStatusRequest, Class: ExtensionOptional},
		{Type: extKeyShare, Class: ExtensionStandard},
		{Type: extSupportedVersions, Class: ExtensionCritical},
		{Type: extPSKKeyExchangeModes, Class: ExtensionStandard},
		{Type: ExtTypeSignedCertificateTimestamp, Class: ExtensionOptional},
		{Type: ExtTypeApplicationSettings, Class: ExtensionOptional},
		{Type: ExtTypeCompressCertificate, Class: ExtensionOptional},
		{Type: ExtTypePadding, Class: ExtensionCritical},
	}
	return t
}
