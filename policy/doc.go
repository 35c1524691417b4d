// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy renders stored resource definitions into the wire
// format gateways consume for enforcement.
//
// A resource names a network destination — a DNS name, a CIDR block,
// or a single IP — plus an ordered list of protocol/port filters.
// Rendering is a pure function of the resource: dns and cidr pass
// through, a single IP is widened to a host-mask CIDR so gateways only
// ever see two wire types, and each declared port token expands to one
// port-range filter entry.
//
// The renderer never sorts or de-duplicates. Filter order is the match
// order downstream policy engines apply, so it is preserved exactly.
//
// Malformed stored data (a non-numeric port string) is a hard error
// for that resource, never a silent "all ports" — see Validate for the
// write-time check that keeps such rows out of the store in the first
// place.
package policy
