// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package principal defines the authenticated entities of the mesh:
// relays, gateways, and clients.
//
// The three kinds share one authentication flow (a bearer token
// fragment resolved by the token package) but diverge after connect —
// gateways receive an initial policy snapshot, relays and clients do
// not. That divergence is expressed by the socket package through
// per-kind hooks; this package carries only the identity and the
// last-seen connection metadata recorded at each successful connect.
//
// Topic naming is also defined here, since every subsystem that
// touches presence needs the same "<kind>:<id>" convention.
package principal
