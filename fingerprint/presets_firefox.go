// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

// firefoxLikeTemplate reproduces Firefox's ClientHello shape (§4.2): the
// same 17-entry cipher suite catalog as Chrome-like (Firefox and Chrome
// share most of the modern suite set) but a distinct 14-extension order,
// GREASE probability 1.0 more evenly distributed across positions, padding
// biased slightly lower (0.6) than Chrome-like, and the Firefox HTTP/2
// pseudo-header order (method, path, authority, scheme). Grounded on the
// host stack's registered firefox_145_windows_11 profile.
func firefoxLikeTemplate() *Template {
	return &Template{
		ID:          TemplateFirefoxLike,
		Name:        "Firefox-like",
		Description: "Firefox ClientHello shape",
		Source:      "firefox_145_windows_11",

		CipherSuites: []uint16{
			csTLS_AES_128_GCM_SHA256,
			csTLS_CHACHA20_POLY1305_SHA256,
			csTLS_AES_256_GCM_SHA384,
			csTLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			csTLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			csTLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			csTLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			csTLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			csTLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
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
			extALPN,
			ExtTypeStatusRequest,
			extSignatureAlgorithms,
			extKeyShare,
			extSupportedVersions,
			extPSKKeyExchangeModes,
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
			{Type: extALPN, Class: ExtensionStandard},
			{Type: ExtTypeStatusRequest, Class: ExtensionOptional},
			{Type: extSignatureAlgorithms, Class: ExtensionStandard},
			{Type: extKeyShare, Class: ExtensionStandard},
			{Type: extSupportedVersions, Class: ExtensionCritical},
			{Type: extPSKKeyExchangeModes, Class: ExtensionStandard},
			{Type: ExtTypeCompressCertificate, Class: ExtensionOptional},
			{Type: ExtTypePadding, Class: ExtensionCritical},
		},

		SupportedGroups: []uint16{groupX25519, groupP256, groupP384, groupP521, groupFFDHE2048},
		SignatureAlgos: []uint16{
			0x0403, 0x0503, 0x0603, 0x0804, 0x0805, 0x0806, 0x0401, 0x0501, 0x0601, 0x0201,
		},
		GREASE: GreasePattern{
			CipherSuiteProbability: 1.0,
			CipherSuitePositions:   []float64{0.0, 0.5},
			ExtensionProbability:   1.0,
			ExtensionPositions:     []float64{0.0, 0.3, 0.6, 0.9},
		},
		Padding: PaddingDistribution{
			MinLength:    0,
			MaxLength:    1500,
			PowerOf2Bias: 0.6,
			PMF: []PMFEntry{
				{Value: 0, Weight: 0.35},
				{Value: 32, Weight: 0.2},
				{Value: 128, Weight: 0.2},
				{Value: 256, Weight: 0.15},
				{Value: 512, Weight: 0.1},
			},
		},
		ALPNProtocols:          [][]byte{[]byte("h2"), []byte("http/1.1")},
		HTTP2PseudoHeaderOrder: []string{":method", ":path", ":authority", ":scheme"},
		SupportedVersions:      []uint16{0x0304, 0x0303},
		KeyShareGroups:         []uint16{groupX25519},
	}
}
