// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"testing"

	"golang.org/x/crypto/cryptobyte"
)

func TestEncodeCipherSuites_ProducesLengthPrefixedVector(t *testing.T) {
	encoded := EncodeCipherSuites([]uint16{0x1301, 0x1302})

	s := cryptobyte.String(encoded)
	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) || !s.Empty() {
		t.Fatal("EncodeCipherSuites() did not produce a single length-prefixed vector")
	}
	if len(list) != 4 {
		t.Errorf("len(list) = %d, want 4", len(list))
	}
}

func TestEncodeExtensions_GREASEEntriesHaveEmptyPayload(t *testing.T) {
	tpl := chromeLikeTemplate()
	plan := &ClientHelloPlan{
		Template:       tpl,
		ExtensionOrder: append([]uint16{0x0a0a}, tpl.ExtensionOrder...),
		PaddingLength:  32,
	}
	encoded := EncodeExtensions(plan)

	s := cryptobyte.String(encoded)
	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) || !s.Empty() {
		t.Fatal("EncodeExtensions() did not produce a single length-prefixed vector")
	}
	var typ uint16
	var data cryptobyte.String
	if !list.ReadUint16(&typ) || !list.ReadUint16LengthPrefixed(&data) {
		t.Fatal("failed to parse first extension record")
	}
	if typ != 0x0a0a {
		t.Fatalf("first extension type = %#04x, want 0x0a0a", typ)
	}
	if len(data) != 0 {
		t.Errorf("GREASE extension payload len = %d, want 0", len(data))
	}
}

func TestEncodeExtensions_PaddingUsesPlanLength(t *testing.T) {
	tpl := chromeLikeTemplate()
	plan := &ClientHelloPlan{
		Template:       tpl,
		ExtensionOrder: tpl.ExtensionOrder,
		PaddingLength:  17,
	}
	encoded := EncodeExtensions(plan)

	s := cryptobyte.String(encoded)
	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) || !s.Empty() {
		t.Fatal("EncodeExtensions() malformed")
	}
	found := false
	for !list.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !list.ReadUint16(&typ) || !list.ReadUint16LengthPrefixed(&data) {
			t.Fatal("failed to parse an extension record")
		}
		if typ == ExtTypePadding {
			found = true
			if len(data) != 17 {
				t.Errorf("padding payload len = %d, want 17", len(data))
			}
		}
	}
	if !found {
		t.Fatal("padding extension not found in encoded output")
	}
}
