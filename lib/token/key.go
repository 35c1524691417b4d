// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"encoding/hex"
	"fmt"

	"github.com/relaymesh/relaymesh/lib/secret"
)

// LoadFragmentKey reads the fragment MAC key from a file, accepting
// either the raw 32-byte form or a 64-character hex encoding. The
// returned buffer always holds the raw key; the caller owns closing
// it.
func LoadFragmentKey(path string) (*secret.Buffer, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, err
	}

	if buffer.Len() == 2*FragmentKeySize {
		decoded := make([]byte, FragmentKeySize)
		if _, err := hex.Decode(decoded, buffer.Bytes()); err == nil {
			buffer.Close()
			return secret.NewFromBytes(decoded)
		}
		secret.Zero(decoded)
	}
	if buffer.Len() != FragmentKeySize {
		buffer.Close()
		return nil, fmt.Errorf("token: fragment key at %s must be %d raw bytes or %d hex characters",
			path, FragmentKeySize, 2*FragmentKeySize)
	}
	return buffer, nil
}
