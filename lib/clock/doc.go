// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, or time.NewTicker directly. In production,
// Real() provides standard library behavior. In tests, Fake() provides
// a deterministic clock that advances only when Advance is called.
//
// The heartbeat scheduler in the socket package and every expiry check
// in the token package go through a Clock, so tests can push a
// connection past its pong deadline or a token past its expiry without
// sleeping.
package clock
