// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package token implements the bearer credential lifecycle for relays,
// gateways, and clients: minting, fragment encoding, verification, and
// revocation.
//
// A token's raw secret is observable exactly once, inside the opaque
// fragment returned by Mint. The store only ever holds a digest. The
// fragment is CBOR ({token_id, raw_secret}) followed by a keyed
// BLAKE3 MAC, base64url-encoded; the MAC makes the fragment
// tamper-evident, and every decode or verification failure collapses
// to the same ErrInvalidToken so the boundary leaks nothing about
// which check failed.
//
// Authentication is the shared entry point for all three principal
// kinds. On success it upserts the principal's last-seen network and
// version metadata through the Store; what happens next (policy push,
// topic subscriptions) is the socket package's per-kind concern.
package token
