// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package principal

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"relay", KindRelay},
		{"gateway", KindGateway},
		{"client", KindClient},
	}
	for _, c := range cases {
		got, err := ParseKind(c.in)
		if err != nil {
			t.Errorf("ParseKind(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseKind(%q) = %v, want %v", c.in, got, c.want)
		}
		if got.String() != c.in {
			t.Errorf("%v.String() = %q, want %q", got, got.String(), c.in)
		}
	}

	if _, err := ParseKind("admin"); err == nil {
		t.Error("ParseKind(admin): expected error")
	}
}

func TestTopics(t *testing.T) {
	relay := &Principal{ID: "r1", AccountID: "acct", Kind: KindRelay, GroupID: "g1"}
	if got := relay.Topic(); got != "relay:r1" {
		t.Errorf("relay Topic = %q", got)
	}
	if got := relay.GroupTopic(); got != "relay_groups:g1" {
		t.Errorf("relay GroupTopic = %q", got)
	}

	gateway := &Principal{ID: "gw1", AccountID: "acct", Kind: KindGateway, GroupID: "g2"}
	if got := gateway.GroupTopic(); got != "gateway_groups:g2" {
		t.Errorf("gateway GroupTopic = %q", got)
	}

	client := &Principal{ID: "c1", AccountID: "acct", Kind: KindClient}
	if got := client.GroupTopic(); got != "clients:acct" {
		t.Errorf("client GroupTopic = %q", got)
	}
}
