// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeKeyFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fragment.key")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	return path
}

func TestLoadFragmentKeyRawAndHexAgree(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5c}, FragmentKeySize)

	rawKey, err := LoadFragmentKey(writeKeyFile(t, raw))
	if err != nil {
		t.Fatalf("loading raw key: %v", err)
	}
	defer rawKey.Close()

	// Hex form with trailing newline, as operators tend to write it.
	hexKey, err := LoadFragmentKey(writeKeyFile(t, []byte(hex.EncodeToString(raw)+"\n")))
	if err != nil {
		t.Fatalf("loading hex key: %v", err)
	}
	defer hexKey.Close()

	if rawKey.Len() != FragmentKeySize || hexKey.Len() != FragmentKeySize {
		t.Fatalf("key lengths = %d/%d, want %d", rawKey.Len(), hexKey.Len(), FragmentKeySize)
	}

	// Both loaded keys must MAC identically.
	rawSecret := bytes.Repeat([]byte{0x01}, 32)
	fromRaw, err := EncodeFragment(rawKey, "token-1", append([]byte(nil), rawSecret...))
	if err != nil {
		t.Fatalf("EncodeFragment with raw key: %v", err)
	}
	fromHex, err := EncodeFragment(hexKey, "token-1", append([]byte(nil), rawSecret...))
	if err != nil {
		t.Fatalf("EncodeFragment with hex key: %v", err)
	}
	if fromRaw != fromHex {
		t.Error("raw and hex key files produce different fragments")
	}
}

func TestLoadFragmentKeyRejectsBadFiles(t *testing.T) {
	cases := []struct {
		name     string
		contents []byte
	}{
		{"too short", bytes.Repeat([]byte{0x01}, 16)},
		{"too long", bytes.Repeat([]byte{0x01}, 48)},
		{"hex length but not hex", []byte(strings.Repeat("z", 2*FragmentKeySize))},
	}
	for _, testCase := range cases {
		if _, err := LoadFragmentKey(writeKeyFile(t, testCase.contents)); err == nil {
			t.Errorf("%s: LoadFragmentKey succeeded, want error", testCase.name)
		}
	}
}
