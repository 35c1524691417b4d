// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ResourceType classifies a resource's address.
type ResourceType string

const (
	// TypeDNS is a domain name, matched by the gateway's DNS
	// interception.
	TypeDNS ResourceType = "dns"

	// TypeCIDR is an address block in prefix notation.
	TypeCIDR ResourceType = "cidr"

	// TypeIP is a single address. Never emitted on the wire — the
	// renderer widens it to a host-mask CIDR.
	TypeIP ResourceType = "ip"
)

// Resource is a stored network destination with its access filters.
type Resource struct {
	ID      string
	Type    ResourceType
	Address string
	Name    string
	Filters []Filter
}

// Filter restricts a resource to a protocol and an ordered list of
// port tokens. Each token is either a single port ("443") or an
// inclusive range ("8000-8999"). An empty port list means all ports
// for the protocol.
type Filter struct {
	Protocol string   `json:"protocol"`
	Ports    []string `json:"ports,omitempty"`
}

// WireResource is the canonical JSON rendering sent to gateways. Type
// is always "dns" or "cidr".
type WireResource struct {
	ID      string       `json:"id"`
	Type    ResourceType `json:"type"`
	Address string       `json:"address"`
	Name    string       `json:"name"`
	Filters []WireFilter `json:"filters"`
}

// WireFilter is a single rendered filter entry. A filter with no port
// range means all ports for the protocol.
type WireFilter struct {
	Protocol       string `json:"protocol"`
	PortRangeStart uint16 `json:"port_range_start,omitempty"`
	PortRangeEnd   uint16 `json:"port_range_end,omitempty"`
}

// ErrMalformedResource marks stored data the renderer refuses to emit:
// an unknown type, an unparseable address, or a non-numeric port
// token. This indicates upstream data corruption, not a transient
// condition — the caller must surface it rather than retry.
var ErrMalformedResource = errors.New("policy: malformed resource")

// Source supplies the current resource set for an account. Implemented
// by the store package; the socket package reads through this
// interface when pushing a snapshot to a gateway.
type Source interface {
	Resources(ctx context.Context, accountID string) ([]Resource, error)
}

// Render transforms one stored resource into its wire representation.
// Pure and deterministic: the same resource always renders to the same
// wire object, and filter/token order is preserved without sorting or
// de-duplication.
func Render(resource Resource) (WireResource, error) {
	wire := WireResource{
		ID:   resource.ID,
		Type: resource.Type,
		Name: resource.Name,
	}

	switch resource.Type {
	case TypeDNS, TypeCIDR:
		wire.Address = resource.Address
	case TypeIP:
		// Gateways never see the ip type: widen to the host netmask
		// for the address family and emit as cidr.
		addr, err := netip.ParseAddr(resource.Address)
		if err != nil {
			return WireResource{}, fmt.Errorf("%w: resource %s: address %q: %v",
				ErrMalformedResource, resource.ID, resource.Address, err)
		}
		wire.Type = TypeCIDR
		wire.Address = netip.PrefixFrom(addr, addr.BitLen()).String()
	default:
		return WireResource{}, fmt.Errorf("%w: resource %s: unknown type %q",
			ErrMalformedResource, resource.ID, resource.Type)
	}

	wire.Filters = make([]WireFilter, 0, len(resource.Filters))
	for _, filter := range resource.Filters {
		if len(filter.Ports) == 0 {
			// All ports, this protocol.
			wire.Filters = append(wire.Filters, WireFilter{Protocol: filter.Protocol})
			continue
		}
		for _, token := range filter.Ports {
			start, end, err := parsePortToken(token)
			if err != nil {
				return WireResource{}, fmt.Errorf("%w: resource %s: %v",
					ErrMalformedResource, resource.ID, err)
			}
			wire.Filters = append(wire.Filters, WireFilter{
				Protocol:       filter.Protocol,
				PortRangeStart: start,
				PortRangeEnd:   end,
			})
		}
	}

	return wire, nil
}

// Validate checks a resource the way Render would, without building
// the wire object. Stores call this at write time so the renderer can
// assume well-formed rows; a validation failure here means the write
// must be rejected.
func Validate(resource Resource) error {
	_, err := Render(resource)
	return err
}

// parsePortToken parses "443" or "8000-8999", trimming whitespace
// around the numbers.
func parsePortToken(token string) (start, end uint16, err error) {
	startText, endText, isRange := strings.Cut(token, "-")

	start64, err := strconv.ParseUint(strings.TrimSpace(startText), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("port token %q: %v", token, err)
	}
	if !isRange {
		return uint16(start64), uint16(start64), nil
	}

	end64, err := strconv.ParseUint(strings.TrimSpace(endText), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("port token %q: %v", token, err)
	}
	if end64 < start64 {
		return 0, 0, fmt.Errorf("port token %q: range end below start", token)
	}
	return uint16(start64), uint16(end64), nil
}
