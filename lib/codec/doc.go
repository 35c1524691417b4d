// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Relaymesh's standard CBOR encoding.
//
// All internal binary encodings (token fragments, persisted filter
// blobs) go through this package so that the encoder configuration is
// defined exactly once: Core Deterministic Encoding on the way out,
// lenient standard CBOR on the way in. Deterministic encoding matters
// for token fragments in particular — the fragment MAC is computed
// over the encoded payload, so the same logical token must always
// produce identical bytes.
//
// The gateway-facing wire resource format is JSON, not CBOR; that
// contract lives in the policy package.
package codec
