// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package principal

import (
	"fmt"
	"net/netip"
	"time"
)

// Kind discriminates the three principal variants. The zero value is
// invalid so that a forgotten Kind fails loudly.
type Kind uint8

const (
	// KindRelay is a TURN-style relay process. Relays belong to a
	// relay group and present the group's token on connect.
	KindRelay Kind = iota + 1

	// KindGateway is a data-plane gateway enforcing resource policy.
	// Gateways belong to a gateway group and receive a policy
	// snapshot immediately after connecting.
	KindGateway

	// KindClient is an end-user device. Clients are scoped to an
	// account rather than a group.
	KindClient
)

// String returns the lowercase name used in topics and URLs.
func (k Kind) String() string {
	switch k {
	case KindRelay:
		return "relay"
	case KindGateway:
		return "gateway"
	case KindClient:
		return "client"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind converts a role path segment ("relay", "gateway",
// "client") to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "relay":
		return KindRelay, nil
	case "gateway":
		return KindGateway, nil
	case "client":
		return KindClient, nil
	default:
		return 0, fmt.Errorf("principal: unknown kind %q", s)
	}
}

// Location is the geographic annotation derived from a connection's
// origin. Coordinates are only meaningful when HasCoordinates is true;
// a zero lat/lon is a real place in the Gulf of Guinea.
type Location struct {
	Region         string
	City           string
	Lat            float64
	Lon            float64
	HasCoordinates bool
}

// Principal is an authenticated relay, gateway, or client scoped to an
// account. The persistent row is upserted on every successful connect
// with the connection's current network and version metadata; the
// online flag is never persisted — it is derived from the presence
// tracker.
type Principal struct {
	// ID is an opaque identifier, unique within the account.
	ID string

	// AccountID scopes the principal. All authorization is
	// account-local.
	AccountID string

	// Kind is the variant tag: relay, gateway, or client.
	Kind Kind

	// GroupID is the relay group or gateway group the principal
	// belongs to. Empty for clients.
	GroupID string

	// IPv4 and IPv6 are the self-reported tunnel addresses from the
	// connection handshake. Either may be unset.
	IPv4 netip.Addr
	IPv6 netip.Addr

	// Name is the display name, user-chosen or auto-derived from the
	// connecting address when absent.
	Name string

	// LastSeenUserAgent is the raw User-Agent header from the most
	// recent connect.
	LastSeenUserAgent string

	// LastSeenRemoteIP is the observed source address of the most
	// recent connect, after proxy header resolution.
	LastSeenRemoteIP netip.Addr

	// LastSeenLocation is the geographic annotation of
	// LastSeenRemoteIP.
	LastSeenLocation Location

	// LastSeenVersion is the connlib version extracted from the user
	// agent.
	LastSeenVersion string

	// LastSeenAt is when the most recent connect was authenticated.
	LastSeenAt time.Time
}

// Topic returns the principal's own channel topic, e.g. "relay:<id>".
// Messages addressed to exactly this principal are published here.
func (p *Principal) Topic() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.ID)
}

// GroupTopic returns the broadcast topic the principal joins on
// connect: the group presence topic for relays and gateways, the
// account clients topic for clients.
func (p *Principal) GroupTopic() string {
	switch p.Kind {
	case KindRelay:
		return RelayGroupTopic(p.GroupID)
	case KindGateway:
		return GatewayGroupTopic(p.GroupID)
	default:
		return ClientsTopic(p.AccountID)
	}
}

// RelayGroupTopic returns "relay_groups:<id>".
func RelayGroupTopic(groupID string) string {
	return "relay_groups:" + groupID
}

// GatewayGroupTopic returns "gateway_groups:<id>".
func GatewayGroupTopic(groupID string) string {
	return "gateway_groups:" + groupID
}

// ClientsTopic returns "clients:<account_id>".
func ClientsTopic(accountID string) string {
	return "clients:" + accountID
}
