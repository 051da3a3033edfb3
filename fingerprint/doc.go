// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fingerprint implements ClientHello fingerprint customization:
// browser-shaped Templates, a Randomization Engine that perturbs them
// without breaking naturalness, a reputation-weighted FingerprintCache for
// remembering which template worked against which target, session-
// resumption consistency checks, downgrade-attack detection, and the
// four-phase Customizer pipeline that ties all of it together for one
// handshake at a time.
//
// This package has no dependency on the host TLS connection types; it is
// wired into them by a thin adapter so that the wire-format engine can be
// tested and reused independently of any one TLS implementation.
package fingerprint
