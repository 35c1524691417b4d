// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the Relaymesh-standard SQLite connection
// pool.
//
// The portal's token, principal, and resource tables live in a single
// SQLite database. This package wraps zombiezen.com/go/sqlite with
// production defaults: WAL journal mode, NORMAL synchronous for
// process-crash durability without fsync-per-commit overhead, busy
// timeout to absorb write contention, and memory-mapped reads.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for the
// duration of its work.
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. The store package
// writes plain SQL against it; there is no query builder.
package sqlitepool
