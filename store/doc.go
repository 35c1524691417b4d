// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists tokens, principals, and resources.
//
// Two implementations share one behavior: SQLite (production, via
// lib/sqlitepool) and Memory (tests and single-process development).
// Both satisfy token.Store and policy.Source; the consuming packages
// define those interfaces and never import this one.
//
// The store is a collaborator surface, not the system of record for
// presence — presence is ephemeral and lives entirely in the presence
// package. What belongs here is exactly what must survive a restart:
// token records (with soft-delete markers), principal rows with their
// last-seen metadata, and the resource definitions the policy
// renderer reads.
package store
