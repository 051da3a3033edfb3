// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import "golang.org/x/crypto/cryptobyte"

// EncodeCipherSuites serializes a cipher-suite list as the
// length-prefixed uint16 vector ClientHello.cipher_suites expects.
func EncodeCipherSuites(suites []uint16) []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, s := range suites {
			b.AddUint16(s)
		}
	})
	return b.BytesOrPanic()
}

// dataForExtension returns the wire payload for ext, preferring a codec
// from this package when one exists for ext.Type and otherwise falling
// back to ext.Data verbatim (host-stack-owned extensions the codec library
// does not model, e.g. key_share, supported_versions).
func dataForExtension(ext ExtensionEntry, plan *ClientHelloPlan) []byte {
	switch ext.Type {
	case ExtTypePadding:
		return (&PaddingExtension{Length: plan.PaddingLength}).Encode()
	default:
		return ext.Data
	}
}

// EncodeExtensions serializes plan's extension order into the
// length-prefixed sequence of (type, length, data) records ClientHello's
// extensions field expects (§4.1, §4.5 transform-wire-bytes phase). GREASE
// extension types injected by the Randomization Engine are emitted with an
// empty payload, per RFC 8701.
func EncodeExtensions(plan *ClientHelloPlan) []byte {
	byType := make(map[uint16]ExtensionEntry, len(plan.Template.Extensions))
	for _, e := range plan.Template.Extensions {
		byType[e.Type] = e
	}

	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, t := range plan.ExtensionOrder {
			b.AddUint16(t)
			if IsGREASEValue(t) {
				b.AddUint16LengthPrefixed(func(*cryptobyte.Builder) {})
				continue
			}
			data := dataForExtension(byType[t], plan)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes(data)
			})
		}
	})
	return b.BytesOrPanic()
}
