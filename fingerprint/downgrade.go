// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

// Downgrade canaries per RFC 8446 §4.1.3: a TLS 1.3-capable server that
// negotiates a lower version writes one of these eight-byte sentinels into
// the last eight bytes of ServerHello.random to let the client detect an
// active downgrade attack.
var (
	tls12DowngradeCanary = [8]byte{0x44, 0x4F, 0x57, 0x4E, 0x47, 0x52, 0x44, 0x01}
	tls11DowngradeCanary = [8]byte{0x44, 0x4F, 0x57, 0x4E, 0x47, 0x52, 0x44, 0x00}
)

// VersionTLS13 and VersionTLS12 are the subset of TLS version identifiers
// downgrade validation needs to reason about.
const (
	VersionTLS12 uint16 = 0x0303
	VersionTLS13 uint16 = 0x0304
)

// ValidateDowngradeProtection checks serverRandom for a downgrade canary,
// per RFC 8446 §4.1.3. The check is only meaningful when the client
// advertised TLS 1.3 support (expectedVersion) and the connection
// negotiated something lower (negotiatedVersion); calling this with
// expectedVersion != VersionTLS13 always succeeds, matching the spec's
// "only meaningful when the client offered 1.3" scoping (§4.6).
func ValidateDowngradeProtection(serverRandom []byte, expectedVersion, negotiatedVersion uint16) error {
	if expectedVersion != VersionTLS13 {
		return nil
	}
	if negotiatedVersion >= VersionTLS13 {
		return nil
	}
	if len(serverRandom) != 32 {
		return newError(ErrKindValidation, "server random must be 32 bytes for downgrade validation")
	}
	var tail [8]byte
	copy(tail[:], serverRandom[24:32])
	if tail == tls12DowngradeCanary || tail == tls11DowngradeCanary {
		return newError(ErrKindDowngradeAttack, "downgrade canary present in server random")
	}
	return nil
}
