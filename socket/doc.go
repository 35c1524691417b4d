// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package socket is the portal's WebSocket boundary: one endpoint per
// principal kind, a connection state machine per socket, and a small
// status API.
//
// A connection moves through three phases. Connecting: the handshake
// query parameters are validated, the per-IP rate limit is checked,
// the token fragment is authenticated under a bounded timeout, and the
// origin is resolved from the proxy headers. Connected: the principal
// is tracked on its own topic and its group topic, presence diffs and
// relayed messages flow out, heartbeat pings flow on a fixed interval,
// and gateways receive an initial policy snapshot. Closed: however the
// connection ends, the presence guards release exactly once.
//
// Messages a peer sends are published to a topic-scoped broker.
// Publishing is restricted to the sender's account: its group topic,
// its account's clients topic, and the own channel topic of any
// principal currently connected under the same account (directed
// delivery, e.g. a client addressing one specific gateway). Token
// revocation never severs a live connection; it only blocks future
// connects.
package socket
