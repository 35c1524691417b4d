// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package token_test

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/relaymesh/relaymesh/geo"
	"github.com/relaymesh/relaymesh/lib/clock"
	"github.com/relaymesh/relaymesh/lib/principal"
	"github.com/relaymesh/relaymesh/lib/secret"
	"github.com/relaymesh/relaymesh/lib/token"
	"github.com/relaymesh/relaymesh/store"
)

type serviceFixture struct {
	service *token.Service
	store   *store.Memory
	clock   *clock.FakeClock
	key     *secret.Buffer
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	key, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, token.FragmentKeySize))
	if err != nil {
		t.Fatalf("creating fragment key: %v", err)
	}
	t.Cleanup(func() { key.Close() })

	memory := store.NewMemory()
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	service, err := token.NewService(token.ServiceConfig{
		Store:       memory,
		FragmentKey: key,
		Clock:       fakeClock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{service: service, store: memory, clock: fakeClock, key: key}
}

func testOrigin() geo.Origin {
	return geo.Origin{
		RemoteIP:       netip.MustParseAddr("203.0.113.9"),
		Region:         "DE",
		City:           "Berlin",
		Lat:            52.52,
		Lon:            13.405,
		HasCoordinates: true,
		UserAgent:      "Linux/6.8 connlib/1.4.2",
		Version:        "1.4.2",
	}
}

func TestMintAndAuthenticate(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	record, fragment, err := fixture.service.Mint(ctx, token.MintRequest{
		AccountID: "acct-1",
		Kind:      principal.KindRelay,
		GroupID:   "group-1",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if fragment == "" {
		t.Fatal("Mint returned empty fragment")
	}
	if !record.ExpiresAt.IsZero() {
		t.Errorf("zero TTL should mean no expiry, got %v", record.ExpiresAt)
	}

	identity := token.Identity{
		IPv4: netip.MustParseAddr("100.64.0.7"),
		Name: "edge-fra-1",
	}
	p, err := fixture.service.Authenticate(ctx, fragment, identity, testOrigin())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.ID == "" {
		t.Error("principal ID not populated")
	}
	if p.AccountID != "acct-1" || p.Kind != principal.KindRelay || p.GroupID != "group-1" {
		t.Errorf("principal scope = %s/%s/%s, want acct-1/relay/group-1", p.AccountID, p.Kind, p.GroupID)
	}
	if p.Name != "edge-fra-1" {
		t.Errorf("principal name = %q, want %q", p.Name, "edge-fra-1")
	}
	if p.LastSeenVersion != "1.4.2" {
		t.Errorf("last seen version = %q, want %q", p.LastSeenVersion, "1.4.2")
	}
	if !p.LastSeenLocation.HasCoordinates || p.LastSeenLocation.City != "Berlin" {
		t.Errorf("last seen location not recorded: %+v", p.LastSeenLocation)
	}
	if !p.LastSeenAt.Equal(fixture.clock.Now()) {
		t.Errorf("last seen at = %v, want %v", p.LastSeenAt, fixture.clock.Now())
	}
}

func TestAuthenticateReconnectKeepsPrincipal(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	_, fragment, err := fixture.service.Mint(ctx, token.MintRequest{
		AccountID: "acct-1",
		Kind:      principal.KindGateway,
		GroupID:   "group-1",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	identity := token.Identity{IPv4: netip.MustParseAddr("100.64.0.7")}
	first, err := fixture.service.Authenticate(ctx, fragment, identity, testOrigin())
	if err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}

	fixture.clock.Advance(time.Hour)
	second, err := fixture.service.Authenticate(ctx, fragment, identity, testOrigin())
	if err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("reconnect created a new principal: %s then %s", first.ID, second.ID)
	}
	if !second.LastSeenAt.After(first.LastSeenAt) {
		t.Errorf("reconnect did not refresh last seen: %v then %v", first.LastSeenAt, second.LastSeenAt)
	}
	if first.Name != second.Name {
		t.Errorf("derived name is not stable: %q then %q", first.Name, second.Name)
	}
	if !strings.HasPrefix(first.Name, "gateway-") {
		t.Errorf("derived name %q does not carry the kind prefix", first.Name)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	fixture := newServiceFixture(t)
	_, err := fixture.service.Authenticate(context.Background(), "", token.Identity{}, geo.Origin{})
	if !errors.Is(err, token.ErrMissingToken) {
		t.Errorf("error = %v, want ErrMissingToken", err)
	}
}

func TestCredentialFailuresAreUniform(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	mint := func(ttl time.Duration) (string, *token.Record) {
		record, fragment, err := fixture.service.Mint(ctx, token.MintRequest{
			AccountID: "acct-1",
			Kind:      principal.KindClient,
			TTL:       ttl,
		})
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		return fragment, record
	}

	expiredFragment, _ := mint(time.Minute)
	revokedFragment, revokedRecord := mint(0)
	if err := fixture.service.Revoke(ctx, revokedRecord.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	fixture.clock.Advance(2 * time.Minute)

	// A fragment minted against a store that has since lost the row is
	// cryptographically valid but names an unknown token.
	unknownFragment, unknownRecord := mint(0)
	if err := fixture.store.DeleteToken(unknownRecord.ID); err != nil {
		t.Fatalf("deleting record: %v", err)
	}

	cases := map[string]string{
		"garbage": "AAAA",
		"expired": expiredFragment,
		"revoked": revokedFragment,
		"unknown": unknownFragment,
		"mutated": expiredFragment[:len(expiredFragment)-2] + "zz",
		"notb64":  "%%%",
	}
	var messages []string
	for name, fragment := range cases {
		_, err := fixture.service.Authenticate(ctx, fragment, token.Identity{}, geo.Origin{})
		if !errors.Is(err, token.ErrInvalidToken) {
			t.Errorf("%s: error = %v, want ErrInvalidToken", name, err)
			continue
		}
		messages = append(messages, err.Error())
	}
	for _, message := range messages {
		if message != messages[0] {
			t.Errorf("failure modes are distinguishable: %q vs %q", messages[0], message)
		}
	}
}

func TestAuthenticateWrongSecretDigest(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	record, _, err := fixture.service.Mint(ctx, token.MintRequest{
		AccountID: "acct-1",
		Kind:      principal.KindClient,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// A fragment that passes the MAC but carries the wrong secret: the
	// kind of thing a leaked fragment key would enable.
	forged, err := token.EncodeFragment(fixture.key, record.ID, bytes.Repeat([]byte{0xff}, 32))
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	if _, err := fixture.service.Authenticate(ctx, forged, token.Identity{}, geo.Origin{}); !errors.Is(err, token.ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticateForKindMismatch(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	_, fragment, err := fixture.service.Mint(ctx, token.MintRequest{
		AccountID: "acct-1",
		Kind:      principal.KindGateway,
		GroupID:   "group-1",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := fixture.service.AuthenticateFor(ctx, fragment, principal.KindRelay, token.Identity{}, geo.Origin{}); !errors.Is(err, token.ErrInvalidToken) {
		t.Errorf("gateway token on relay endpoint: error = %v, want ErrInvalidToken", err)
	}
	if _, err := fixture.service.AuthenticateFor(ctx, fragment, principal.KindGateway, token.Identity{}, geo.Origin{}); err != nil {
		t.Errorf("gateway token on gateway endpoint: %v", err)
	}
}

func TestAuthenticateStoreTimeout(t *testing.T) {
	key, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, token.FragmentKeySize))
	if err != nil {
		t.Fatalf("creating fragment key: %v", err)
	}
	defer key.Close()

	slow := &stalledStore{Memory: store.NewMemory()}
	service, err := token.NewService(token.ServiceConfig{
		Store:         slow,
		FragmentKey:   key,
		LookupTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	fragment, err := token.EncodeFragment(key, "token-1", bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("EncodeFragment: %v", err)
	}
	if _, err := service.Authenticate(context.Background(), fragment, token.Identity{}, geo.Origin{}); !errors.Is(err, token.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

// stalledStore never answers lookups within any deadline.
type stalledStore struct {
	*store.Memory
}

func (s *stalledStore) LookupToken(ctx context.Context, id string) (*token.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestMintValidation(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		request token.MintRequest
	}{
		{"missing account", token.MintRequest{Kind: principal.KindClient}},
		{"relay without group", token.MintRequest{AccountID: "acct-1", Kind: principal.KindRelay}},
		{"gateway without group", token.MintRequest{AccountID: "acct-1", Kind: principal.KindGateway}},
		{"client with group", token.MintRequest{AccountID: "acct-1", Kind: principal.KindClient, GroupID: "group-1"}},
		{"zero kind", token.MintRequest{AccountID: "acct-1"}},
	}
	for _, testCase := range cases {
		if _, _, err := fixture.service.Mint(ctx, testCase.request); err == nil {
			t.Errorf("%s: Mint succeeded, want error", testCase.name)
		}
	}
}

func TestRevokeGroup(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	var fragments []string
	for i := 0; i < 3; i++ {
		_, fragment, err := fixture.service.Mint(ctx, token.MintRequest{
			AccountID: "acct-1",
			Kind:      principal.KindRelay,
			GroupID:   "group-1",
		})
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		fragments = append(fragments, fragment)
	}
	_, otherFragment, err := fixture.service.Mint(ctx, token.MintRequest{
		AccountID: "acct-1",
		Kind:      principal.KindRelay,
		GroupID:   "group-2",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	count, err := fixture.service.RevokeGroup(ctx, "group-1")
	if err != nil {
		t.Fatalf("RevokeGroup: %v", err)
	}
	if count != 3 {
		t.Errorf("revoked %d tokens, want 3", count)
	}

	for _, fragment := range fragments {
		if _, err := fixture.service.Authenticate(ctx, fragment, token.Identity{}, geo.Origin{}); !errors.Is(err, token.ErrInvalidToken) {
			t.Errorf("group-1 token still authenticates: %v", err)
		}
	}
	if _, err := fixture.service.Authenticate(ctx, otherFragment, token.Identity{}, geo.Origin{}); err != nil {
		t.Errorf("group-2 token caught by group-1 revocation: %v", err)
	}

	// Revoking again is a no-op.
	count, err = fixture.service.RevokeGroup(ctx, "group-1")
	if err != nil {
		t.Fatalf("second RevokeGroup: %v", err)
	}
	if count != 0 {
		t.Errorf("second revocation touched %d tokens, want 0", count)
	}
}

func TestRevokeUnknownToken(t *testing.T) {
	fixture := newServiceFixture(t)
	err := fixture.service.Revoke(context.Background(), "no-such-token")
	if !errors.Is(err, token.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
