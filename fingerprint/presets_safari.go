// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

// safariLikeTemplate reproduces Safari's ClientHello shape (§4.2): a
// smaller, TLS-1.3-only 9-entry cipher suite list, 13 extensions, GREASE
// probability 0.8, padding biased toward the low end of a narrower [0,512]
// range (bias 0.8), h2/http1.1 ALPN, and the Safari HTTP/2 pseudo-header
// order (method, scheme, authority, path). Grounded on the host stack's
// registered safari_18_macos_14 profile.
func safariLikeTemplate() *Template {
	return &Template{
		ID:          TemplateSafariLike,
		Name:        "Safari-like",
		Description: "Safari ClientHello shape",
		Source:      "safari_18_macos_14",

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
		},

		ExtensionOrder: []uint16{
			extServerName,
			extExtendedMasterSecret,
			extRenegotiationInfo,
			extSupportedGroups,
			extECPointFormats,
			ExtTypeStatusRequest,
			extALPN,
			extSignatureAlgorithms,
			extKeyShare,
			extPSKKeyExchangeModes,
			extSupportedVersions,
			extCertificateAuthorities,
			ExtTypeCompressCertificate,
		},
		Extensions: []ExtensionEntry{
			{Type: extServerName, Class: ExtensionCritical},
			{Type: extExtendedMasterSecret, Class: ExtensionStandard},
			{Type: extRenegotiationInfo, Class: ExtensionCritical},
			{Type: extSupportedGroups, Class: ExtensionStandard},
			{Type: extECPointFormats, Class: ExtensionStandard},
			{Type: ExtTypeStatusRequest, Class: ExtensionOptional},
			{Type: extALPN, Class: ExtensionStandard},
			{Type: extSignatureAlgorithms, Class: ExtensionStandard},
			{Type: extKeyShare, Class: ExtensionStandard},
			{Type: extPSKKeyExchangeModes, Class: ExtensionStandard},
			{Type: extSupportedVersions, Class: ExtensionCritical},
			{Type: extCertificateAuthorities, Class: ExtensionOptional},
			{Type: ExtTypeCompressCertificate, Class: ExtensionOptional},
		},

		SupportedGroups: []uint16{groupX25519, groupP256, groupP384, groupP521},
		SignatureAlgos: []uint16{
			0x0403, 0x0804, 0x0503, 0x0805, 0x0601, 0x0501, 0x0401,
		},
		GREASE: GreasePattern{
			CipherSuiteProbability: 0.8,
			CipherSuitePositions:   []float64{0.0},
			ExtensionProbability:   0.8,
			ExtensionPositions:     []float64{0.0, 0.5},
		},
		Padding: PaddingDistribution{
			MinLength:    0,
			MaxLength:    512,
			PowerOf2Bias: 0.8,
			PMF: []PMFEntry{
				{Value: 0, Weight: 0.5},
				{Value: 64, Weight: 0.25},
				{Value: 128, Weight: 0.15},
				{Value: 256, Weight: 0.1},
			},
		},
		ALPNProtocols:          [][]byte{[]byte("h2"), []byte("http/1.1")},
		HTTP2PseudoHeaderOrder: []string{":method", ":scheme", ":authority", ":path"},
		SupportedVersions:      []uint16{0x0304},
		KeyShareGroups:         []uint16{groupX25519},
	}
}
