// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/relaymesh/relaymesh/lib/secret"
)

func newFragmentKey(t *testing.T, fill byte) *secret.Buffer {
	t.Helper()
	raw := bytes.Repeat([]byte{fill}, FragmentKeySize)
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		t.Fatalf("creating fragment key: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

func TestFragmentRoundTrip(t *testing.T) {
	key := newFragmentKey(t, 0x7f)
	rawSecret := bytes.Repeat([]byte{0xab}, 32)

	fragment, err := EncodeFragment(key, "token-1", append([]byte(nil), rawSecret...))
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}

	tokenID, decodedSecret, err := DecodeFragment(key, fragment)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if tokenID != "token-1" {
		t.Errorf("token ID = %q, want %q", tokenID, "token-1")
	}
	if !bytes.Equal(decodedSecret, rawSecret) {
		t.Errorf("decoded secret does not match original")
	}
}

func TestFragmentDeterministic(t *testing.T) {
	key := newFragmentKey(t, 0x01)
	rawSecret := bytes.Repeat([]byte{0x22}, 32)

	first, err := EncodeFragment(key, "token-1", append([]byte(nil), rawSecret...))
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	second, err := EncodeFragment(key, "token-1", append([]byte(nil), rawSecret...))
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	if first != second {
		t.Errorf("encoding is not deterministic:\n  %s\n  %s", first, second)
	}
}

func TestFragmentBitFlipRejected(t *testing.T) {
	key := newFragmentKey(t, 0x7f)
	fragment, err := EncodeFragment(key, "token-1", bytes.Repeat([]byte{0xcd}, 32))
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(fragment)
	if err != nil {
		t.Fatalf("decoding fragment: %v", err)
	}

	// Flip one bit at every position: payload corruption and MAC
	// corruption must be equally invisible.
	for position := range raw {
		mutated := append([]byte(nil), raw...)
		mutated[position] ^= 0x01
		_, _, err := DecodeFragment(key, base64.RawURLEncoding.EncodeToString(mutated))
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("bit flip at byte %d: error = %v, want ErrInvalidToken", position, err)
		}
	}
}

func TestFragmentWrongKeyRejected(t *testing.T) {
	mintKey := newFragmentKey(t, 0x7f)
	verifyKey := newFragmentKey(t, 0x80)

	fragment, err := EncodeFragment(mintKey, "token-1", bytes.Repeat([]byte{0xef}, 32))
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	if _, _, err := DecodeFragment(verifyKey, fragment); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong key: error = %v, want ErrInvalidToken", err)
	}
}

func TestFragmentGarbageRejected(t *testing.T) {
	key := newFragmentKey(t, 0x7f)

	for _, fragment := range []string{
		"not!base64url",
		"",
		base64.RawURLEncoding.EncodeToString([]byte("short")),
		base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{0}, fragmentMACSize)),
	} {
		if _, _, err := DecodeFragment(key, fragment); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("fragment %q: error = %v, want ErrInvalidToken", fragment, err)
		}
	}
}
