// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"testing"
)

func TestRenderDNSVerbatim(t *testing.T) {
	wire, err := Render(Resource{
		ID:      "res-1",
		Type:    TypeDNS,
		Address: "gitlab.internal.example.com",
		Name:    "GitLab",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if wire.Type != TypeDNS || wire.Address != "gitlab.internal.example.com" {
		t.Errorf("wire = %+v", wire)
	}
	if len(wire.Filters) != 0 {
		t.Errorf("filters = %v, want empty", wire.Filters)
	}
}

func TestRenderCIDRVerbatim(t *testing.T) {
	wire, err := Render(Resource{
		ID:      "res-2",
		Type:    TypeCIDR,
		Address: "10.10.0.0/24",
		Name:    "Staging subnet",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if wire.Type != TypeCIDR || wire.Address != "10.10.0.0/24" {
		t.Errorf("wire = %+v", wire)
	}
}

func TestRenderIPWidening(t *testing.T) {
	cases := []struct {
		address string
		want    string
	}{
		{"10.3.1.7", "10.3.1.7/32"},
		{"189.172.73.153", "189.172.73.153/32"},
		{"2607:f8b0:4009:804::200e", "2607:f8b0:4009:804::200e/128"},
		{"::1", "::1/128"},
	}
	for _, c := range cases {
		wire, err := Render(Resource{ID: "res", Type: TypeIP, Address: c.address})
		if err != nil {
			t.Errorf("Render(%q): %v", c.address, err)
			continue
		}
		if wire.Type != TypeCIDR {
			t.Errorf("Render(%q) type = %q, want cidr", c.address, wire.Type)
		}
		if wire.Address != c.want {
			t.Errorf("Render(%q) address = %q, want %q", c.address, wire.Address, c.want)
		}
	}
}

func TestRenderPortExpansion(t *testing.T) {
	wire, err := Render(Resource{
		ID:   "res-3",
		Type: TypeDNS, Address: "db.internal",
		Filters: []Filter{
			{Protocol: "tcp", Ports: []string{"80", "443-450"}},
			{Protocol: "icmp"},
		},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := []WireFilter{
		{Protocol: "tcp", PortRangeStart: 80, PortRangeEnd: 80},
		{Protocol: "tcp", PortRangeStart: 443, PortRangeEnd: 450},
		{Protocol: "icmp"},
	}
	if len(wire.Filters) != len(want) {
		t.Fatalf("filters = %v, want %v", wire.Filters, want)
	}
	for i := range want {
		if wire.Filters[i] != want[i] {
			t.Errorf("filter %d = %+v, want %+v", i, wire.Filters[i], want[i])
		}
	}
}

func TestRenderPortWhitespaceTrimmed(t *testing.T) {
	wire, err := Render(Resource{
		ID:   "res-4",
		Type: TypeCIDR, Address: "10.0.0.0/8",
		Filters: []Filter{{Protocol: "udp", Ports: []string{" 53 ", "1024 - 2048"}}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if wire.Filters[0].PortRangeStart != 53 || wire.Filters[0].PortRangeEnd != 53 {
		t.Errorf("filter 0 = %+v", wire.Filters[0])
	}
	if wire.Filters[1].PortRangeStart != 1024 || wire.Filters[1].PortRangeEnd != 2048 {
		t.Errorf("filter 1 = %+v", wire.Filters[1])
	}
}

func TestRenderOrderPreserved(t *testing.T) {
	// Ordering is the downstream match order; the renderer must not
	// sort or de-duplicate even overlapping ranges.
	wire, err := Render(Resource{
		ID:   "res-5",
		Type: TypeDNS, Address: "app.internal",
		Filters: []Filter{
			{Protocol: "tcp", Ports: []string{"8000-8999", "443", "8080"}},
			{Protocol: "tcp", Ports: []string{"443"}},
		},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	starts := []uint16{8000, 443, 8080, 443}
	for i, start := range starts {
		if wire.Filters[i].PortRangeStart != start {
			t.Errorf("filter %d start = %d, want %d", i, wire.Filters[i].PortRangeStart, start)
		}
	}
}

func TestRenderMalformed(t *testing.T) {
	cases := []Resource{
		{ID: "bad-port", Type: TypeDNS, Address: "x", Filters: []Filter{{Protocol: "tcp", Ports: []string{"http"}}}},
		{ID: "bad-range", Type: TypeDNS, Address: "x", Filters: []Filter{{Protocol: "tcp", Ports: []string{"90-80"}}}},
		{ID: "bad-overflow", Type: TypeDNS, Address: "x", Filters: []Filter{{Protocol: "tcp", Ports: []string{"70000"}}}},
		{ID: "bad-empty", Type: TypeDNS, Address: "x", Filters: []Filter{{Protocol: "tcp", Ports: []string{""}}}},
		{ID: "bad-ip", Type: TypeIP, Address: "10.0.0.0/8"},
		{ID: "bad-type", Type: "host", Address: "10.0.0.1"},
	}
	for _, resource := range cases {
		if _, err := Render(resource); !errors.Is(err, ErrMalformedResource) {
			t.Errorf("Render(%s): err = %v, want ErrMalformedResource", resource.ID, err)
		}
		if err := Validate(resource); !errors.Is(err, ErrMalformedResource) {
			t.Errorf("Validate(%s): err = %v, want ErrMalformedResource", resource.ID, err)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	resource := Resource{
		ID:   "res-6",
		Type: TypeIP, Address: "10.1.2.3",
		Filters: []Filter{{Protocol: "tcp", Ports: []string{"22", "80-81"}}},
	}
	first, err := Render(resource)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := Render(resource)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if first.Address != second.Address || len(first.Filters) != len(second.Filters) {
		t.Errorf("renders differ: %+v vs %+v", first, second)
	}
}
