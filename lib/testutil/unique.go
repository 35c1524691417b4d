// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueName returns a name with the given prefix that is unique
// within the test process. Useful for account and group identifiers
// when tests share an in-memory store.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
