// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package geo

import "strings"

// ConnlibVersion extracts the data-plane library version from a user
// agent of the form "<Platform>/<version> (<detail>) connlib/<version>".
// Returns "" when the agent string carries no connlib token.
//
// The platform segment is deliberately ignored: fleet tooling cares
// which protocol version a peer speaks, and that is determined by
// connlib, not by the host OS.
func ConnlibVersion(userAgent string) string {
	for _, field := range strings.Fields(userAgent) {
		if version, found := strings.CutPrefix(field, "connlib/"); found && version != "" {
			return version
		}
	}
	return ""
}
