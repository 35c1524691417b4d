// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"fmt"
	"net/netip"
	"net/url"

	"github.com/relaymesh/relaymesh/lib/token"
)

// maxNameLength bounds the self-reported display name.
const maxNameLength = 256

// parseHandshake validates the upgrade request's query parameters. A
// failure here is the peer's fault and maps to the validation
// rejection; the token itself is judged later by authentication.
func parseHandshake(query url.Values) (fragment string, identity token.Identity, err error) {
	fragment = query.Get("token")

	if raw := query.Get("ipv4"); raw != "" {
		addr, parseErr := netip.ParseAddr(raw)
		if parseErr != nil || !addr.Unmap().Is4() {
			return "", token.Identity{}, fmt.Errorf("socket: ipv4 parameter %q is not an IPv4 address", raw)
		}
		identity.IPv4 = addr.Unmap()
	}
	if raw := query.Get("ipv6"); raw != "" {
		addr, parseErr := netip.ParseAddr(raw)
		if parseErr != nil || !addr.Is6() || addr.Is4In6() {
			return "", token.Identity{}, fmt.Errorf("socket: ipv6 parameter %q is not an IPv6 address", raw)
		}
		identity.IPv6 = addr
	}

	identity.Name = query.Get("name")
	if len(identity.Name) > maxNameLength {
		return "", token.Identity{}, fmt.Errorf("socket: name parameter exceeds %d bytes", maxNameLength)
	}
	return fragment, identity, nil
}
