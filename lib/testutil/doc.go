// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// The Require* channel helpers encapsulate the timeout safety valve
// pattern so that individual tests never hang forever on a channel
// that a bug left unsignalled.
package testutil
