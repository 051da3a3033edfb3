// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Extension type constants for the codecs this library owns. These are
// independent of, but numerically consistent with, the host stack's own
// extension-type constants in common.go (utlsExtensionApplicationSettings,
// extensionCompressCertificate, and so on) — see SPEC_FULL.md §4.1's
// resolution of the ALPS-vs-compress-certificate ambiguity.
const (
	ExtTypeApplicationSettings       uint16 = 17513 // 0x4469, ALPS
	ExtTypeDelegatedCredentials      uint16 = 34     // 0x0022
	ExtTypeCompressCertificate       uint16 = 27     // 0x001b
	ExtTypePadding                   uint16 = 21     // 0x0015
	ExtTypeStatusRequest             uint16 = 5      // 0x0005
	ExtTypeSignedCertificateTimestamp uint16 = 18    // 0x0012
)

// StatusRequestTypeOCSP is the only status_request type this codec emits.
const StatusRequestTypeOCSP uint8 = 1

// CertCompressionAlgo identifies a certificate-compression algorithm, per
// RFC 8879. Values match the host stack's own CertCompressionAlgo constants.
type CertCompressionAlgo uint16

const (
	CertCompressionZlib   CertCompressionAlgo = 1
	CertCompressionBrotli CertCompressionAlgo = 2
	CertCompressionZstd   CertCompressionAlgo = 3
)

// ApplicationSettingsExtension implements the ALPS extension: a length
// prefix followed by a concatenation of length-prefixed ALPN identifiers
// (§4.1).
type ApplicationSettingsExtension struct {
	SupportedProtocols [][]byte
}

func (e *ApplicationSettingsExtension) Encode() []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, p := range e.SupportedProtocols {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes(p)
			})
		}
	})
	return b.BytesOrPanic()
}

func (e *ApplicationSettingsExtension) Decode(data []byte) error {
	s := cryptobyte.String(data)
	var protoList cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&protoList) || !s.Empty() {
		return malformed("application_settings", nil)
	}
	var protos [][]byte
	for !protoList.Empty() {
		var p cryptobyte.String
		if !protoList.ReadUint8LengthPrefixed(&p) {
			return malformed("application_settings", nil)
		}
		protos = append(protos, append([]byte(nil), p...))
	}
	e.SupportedProtocols = protos
	return nil
}

// DelegatedCredentialExtension implements delegated-credential signalling: a
// length prefix followed by a concatenation of 2-byte signature-scheme
// identifiers; the length must be even (§4.1).
type DelegatedCredentialExtension struct {
	SignatureSchemes []uint16
}

func (e *DelegatedCredentialExtension) Encode() []byte {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, s := range e.SignatureSchemes {
			b.AddUint16(s)
		}
	})
	return b.BytesOrPanic()
}

func (e *DelegatedCredentialExtension) Decode(data []byte) error {
	s := cryptobyte.String(data)
	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) || !s.Empty() {
		return malformed("delegated_credentials", nil)
	}
	if len(list)%2 != 0 {
		return malformed("delegated_credentials", fmt.Errorf("odd length %d", len(list)))
	}
	var schemes []uint16
	for !list.Empty() {
		var v uint16
		if !list.ReadUint16(&v) {
			return malformed("delegated_credentials", nil)
		}
		schemes = append(schemes, v)
	}
	e.SignatureSchemes = schemes
	return nil
}

// CompressCertificateExtension implements the compress_certificate
// extension: a one-byte length prefix followed by a concatenation of 2-byte
// compression-algorithm identifiers; the length must be even (§4.1).
type CompressCertificateExtension struct {
	Algorithms []CertCompressionAlgo
}

func (e *CompressCertificateExtension) Encode() []byte {
	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, a := range e.Algorithms {
			b.AddUint16(uint16(a))
		}
	})
	return b.BytesOrPanic()
}

func (e *CompressCertificateExtension) Decode(data []byte) error {
	s := cryptobyte.String(data)
	var list cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&list) || !s.Empty() {
		return malformed("compress_certificate", nil)
	}
	if len(list)%2 != 0 {
		return malformed("compress_certificate", fmt.Errorf("odd length %d", len(list)))
	}
	var algos []CertCompressionAlgo
	for !list.Empty() {
		var v uint16
		if !list.ReadUint16(&v) {
			return malformed("compress_certificate", nil)
		}
		algos = append(algos, CertCompressionAlgo(v))
	}
	e.Algorithms = algos
	return nil
}

// PaddingExtension implements the padding extension: exactly Length zero
// bytes, no other content (§4.1, §8 boundary: Length 0 is valid and still
// emits a correctly-framed zero-length payload).
type PaddingExtension struct {
	Length uint16
}

func (e *PaddingExtension) Encode() []byte {
	return make([]byte, e.Length)
}

func (e *PaddingExtension) Decode(data []byte) error {
	for _, b := range data {
		if b != 0 {
			return malformed("padding", fmt.Errorf("non-zero padding byte"))
		}
	}
	e.Length = uint16(len(data))
	return nil
}

// StatusRequestExtension implements the OCSP status_request extension
// (§4.1): one-byte type, 2-byte responder-ID-list length + bytes, 2-byte
// extensions length + bytes.
type StatusRequestExtension struct {
	Type           uint8
	ResponderIDs   []byte
	RequestExtensions []byte
}

func (e *StatusRequestExtension) Encode() []byte {
	var b cryptobyte.Builder
	typ := e.Type
	if typ == 0 {
		typ = StatusRequestTypeOCSP
	}
	b.AddUint8(typ)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(e.ResponderIDs) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(e.RequestExtensions) })
	return b.BytesOrPanic()
}

func (e *StatusRequestExtension) Decode(data []byte) error {
	s := cryptobyte.String(data)
	var typ uint8
	var responderIDs, reqExt cryptobyte.String
	if !s.ReadUint8(&typ) ||
		!s.ReadUint16LengthPrefixed(&responderIDs) ||
		!s.ReadUint16LengthPrefixed(&reqExt) ||
		!s.Empty() {
		return malformed("status_request", nil)
	}
	e.Type = typ
	e.ResponderIDs = append([]byte(nil), responderIDs...)
	e.RequestExtensions = append([]byte(nil), reqExt...)
	return nil
}

// SignedCertificateTimestampExtension implements the presence-only SCT
// extension: zero bytes of payload (§4.1).
type SignedCertificateTimestampExtension struct{}

func (e *SignedCertificateTimestampExtension) Encode() []byte {
	return nil
}

func (e *SignedCertificateTimestampExtension) Decode(data []byte) error {
	if len(data) != 0 {
		return malformed("signed_certificate_timestamp", fmt.Errorf("expected empty payload, got %d bytes", len(data)))
	}
	return nil
}

func malformed(name string, cause error) error {
	return newError(ErrKindMalformedExtension, fmt.Sprintf("%s: malformed extension", name)).withCause(cause)
}
