// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package presence tracks which principals are online, per topic.
//
// The tracker is a per-topic multiset of connections: a principal
// connected twice (dual-stack rollover, rolling restart) counts twice,
// and "online" means any count above zero. Join and leave diffs are
// broadcast to topic subscribers in the order the underlying events
// were processed — per topic, never across topics.
//
// Untracking is scope-bound rather than an API the caller must
// remember: Track returns a Guard whose Release is idempotent and is
// tied to the owning connection's lifetime by the socket package.
// One tracked join therefore produces exactly one leave, no matter
// how many teardown paths race.
//
// Nothing here persists. The tracker's entire contents are derived
// from currently open connections and rebuild themselves from Track
// calls after a restart, so total state loss is not a failure mode.
package presence
