// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/relaymesh/relaymesh/lib/codec"
	"github.com/relaymesh/relaymesh/lib/secret"
)

// fragmentMACSize is the keyed BLAKE3 output appended to the payload.
const fragmentMACSize = 32

// FragmentKeySize is the required MAC key length.
const FragmentKeySize = 32

// fragmentPayload is the CBOR body of a token fragment.
type fragmentPayload struct {
	TokenID string `cbor:"1,keyasint"`
	Secret  []byte `cbor:"2,keyasint"`
}

// EncodeFragment builds the opaque bearer string for a token: CBOR
// payload, keyed BLAKE3 MAC, base64url. The caller owns zeroing
// rawSecret afterwards.
func EncodeFragment(key *secret.Buffer, tokenID string, rawSecret []byte) (string, error) {
	payload, err := codec.Marshal(fragmentPayload{TokenID: tokenID, Secret: rawSecret})
	if err != nil {
		return "", fmt.Errorf("token: encoding fragment payload: %w", err)
	}

	mac, err := fragmentMAC(key, payload)
	if err != nil {
		return "", err
	}

	raw := make([]byte, 0, len(payload)+fragmentMACSize)
	raw = append(raw, payload...)
	raw = append(raw, mac...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeFragment verifies and opens a fragment. Every failure —
// malformed base64, truncated data, MAC mismatch, bad CBOR — returns
// ErrInvalidToken: a forged fragment and an unknown token must be
// indistinguishable to the caller, or the decoder becomes an oracle
// for fragment-format guessing.
func DecodeFragment(key *secret.Buffer, fragment string) (tokenID string, rawSecret []byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(fragment)
	if err != nil {
		return "", nil, ErrInvalidToken
	}
	if len(raw) <= fragmentMACSize {
		return "", nil, ErrInvalidToken
	}

	splitPoint := len(raw) - fragmentMACSize
	payload := raw[:splitPoint]
	mac := raw[splitPoint:]

	expected, err := fragmentMAC(key, payload)
	if err != nil {
		return "", nil, err
	}
	if subtle.ConstantTimeCompare(expected, mac) != 1 {
		return "", nil, ErrInvalidToken
	}

	var decoded fragmentPayload
	if err := codec.Unmarshal(payload, &decoded); err != nil {
		return "", nil, ErrInvalidToken
	}
	if decoded.TokenID == "" || len(decoded.Secret) == 0 {
		return "", nil, ErrInvalidToken
	}
	return decoded.TokenID, decoded.Secret, nil
}

// fragmentMAC computes the keyed BLAKE3 MAC over a fragment payload.
func fragmentMAC(key *secret.Buffer, payload []byte) ([]byte, error) {
	hasher, err := blake3.NewKeyed(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("token: fragment MAC key: %w", err)
	}
	hasher.Write(payload)
	return hasher.Sum(nil)[:fragmentMACSize], nil
}

// DigestSecret returns the digest stored in place of a raw secret.
func DigestSecret(rawSecret []byte) []byte {
	sum := blake3.Sum256(rawSecret)
	return sum[:]
}
