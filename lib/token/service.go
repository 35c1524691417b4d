// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/relaymesh/relaymesh/geo"
	"github.com/relaymesh/relaymesh/lib/clock"
	"github.com/relaymesh/relaymesh/lib/principal"
	"github.com/relaymesh/relaymesh/lib/secret"
)

// rawSecretSize is the length of a freshly minted raw secret.
const rawSecretSize = 32

// defaultLookupTimeout bounds the store round-trip during
// authentication. A lookup that has not answered by then fails the
// connection attempt instead of leaving it pending.
const defaultLookupTimeout = 5 * time.Second

// Service is the token verifier and lifecycle manager.
type Service struct {
	store         Store
	key           *secret.Buffer
	clock         clock.Clock
	logger        *slog.Logger
	lookupTimeout time.Duration
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Store is the token/principal persistence. Required.
	Store Store

	// FragmentKey is the 32-byte fragment MAC key. Required. The
	// service holds a reference; the caller must keep the buffer
	// open for the service's lifetime.
	FragmentKey *secret.Buffer

	// Clock provides the current time for expiry checks. Defaults to
	// the real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger

	// LookupTimeout bounds the store round-trip during
	// authentication. Defaults to 5 seconds.
	LookupTimeout time.Duration
}

// NewService validates the configuration and creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("token: Store is required")
	}
	if cfg.FragmentKey == nil {
		return nil, fmt.Errorf("token: FragmentKey is required")
	}
	if cfg.FragmentKey.Len() != FragmentKeySize {
		return nil, fmt.Errorf("token: FragmentKey must be %d bytes, got %d", FragmentKeySize, cfg.FragmentKey.Len())
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	return &Service{
		store:         cfg.Store,
		key:           cfg.FragmentKey,
		clock:         clk,
		logger:        logger,
		lookupTimeout: timeout,
	}, nil
}

// MintRequest names the scope of a new token.
type MintRequest struct {
	// AccountID scopes the token. Required.
	AccountID string

	// Kind is the principal kind the token authenticates. Required.
	Kind principal.Kind

	// GroupID binds the token to a relay or gateway group. Required
	// for relay and gateway tokens, forbidden for client tokens.
	GroupID string

	// TTL bounds the token's life. Zero means no expiry.
	TTL time.Duration
}

// Mint creates a token and returns the stored record plus the opaque
// fragment. The fragment is the only time the raw secret is
// observable; it must be delivered to the operator out-of-band and is
// never retrievable again.
func (s *Service) Mint(ctx context.Context, request MintRequest) (*Record, string, error) {
	if request.AccountID == "" {
		return nil, "", fmt.Errorf("token: mint: AccountID is required")
	}
	switch request.Kind {
	case principal.KindRelay, principal.KindGateway:
		if request.GroupID == "" {
			return nil, "", fmt.Errorf("token: mint: GroupID is required for %s tokens", request.Kind)
		}
	case principal.KindClient:
		if request.GroupID != "" {
			return nil, "", fmt.Errorf("token: mint: client tokens are account-scoped, not group-scoped")
		}
	default:
		return nil, "", fmt.Errorf("token: mint: invalid kind %v", request.Kind)
	}

	rawSecret := make([]byte, rawSecretSize)
	if _, err := rand.Read(rawSecret); err != nil {
		return nil, "", fmt.Errorf("token: mint: generating secret: %w", err)
	}

	now := s.clock.Now()
	record := &Record{
		ID:           uuid.NewString(),
		AccountID:    request.AccountID,
		Kind:         request.Kind,
		GroupID:      request.GroupID,
		SecretDigest: DigestSecret(rawSecret),
		CreatedAt:    now,
	}
	if request.TTL > 0 {
		record.ExpiresAt = now.Add(request.TTL)
	}

	fragment, err := EncodeFragment(s.key, record.ID, rawSecret)
	secret.Zero(rawSecret)
	if err != nil {
		return nil, "", err
	}

	if err := s.store.InsertToken(ctx, record); err != nil {
		return nil, "", fmt.Errorf("token: mint: storing record: %w", err)
	}

	s.logger.Info("token minted",
		"token_id", record.ID,
		"account_id", record.AccountID,
		"kind", record.Kind.String(),
		"group_id", record.GroupID,
	)
	return record, fragment, nil
}

// Revoke sets the token's soft-delete marker. Subsequent Authenticate
// calls against this token fail with ErrInvalidToken. Live
// connections that authenticated with the token are NOT severed —
// revocation only blocks future connects.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	if err := s.store.RevokeToken(ctx, tokenID, s.clock.Now()); err != nil {
		return fmt.Errorf("token: revoke %s: %w", tokenID, err)
	}
	s.logger.Info("token revoked", "token_id", tokenID)
	return nil
}

// RevokeGroup revokes every active token bound to a group. Used when
// a group's deployment is rotated or deleted.
func (s *Service) RevokeGroup(ctx context.Context, groupID string) (int, error) {
	count, err := s.store.RevokeGroupTokens(ctx, groupID, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("token: revoke group %s: %w", groupID, err)
	}
	s.logger.Info("group tokens revoked", "group_id", groupID, "count", count)
	return count, nil
}

// Identity carries the self-reported handshake parameters recorded on
// the principal at connect.
type Identity struct {
	// IPv4 and IPv6 are the peer's tunnel addresses. Either may be
	// unset.
	IPv4 netip.Addr
	IPv6 netip.Addr

	// Name is the display name; auto-derived when empty.
	Name string
}

// Authenticate resolves a fragment to a principal. Returns
// ErrMissingToken for an empty fragment, ErrInvalidToken for every
// credential failure, and ErrUnavailable when the store does not
// answer within the lookup timeout.
//
// On success the principal row is upserted with the connection's
// current network, geographic, and version metadata.
func (s *Service) Authenticate(ctx context.Context, fragment string, identity Identity, origin geo.Origin) (*principal.Principal, error) {
	if fragment == "" {
		return nil, ErrMissingToken
	}

	tokenID, rawSecret, err := DecodeFragment(s.key, fragment)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(rawSecret)

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	record, err := s.store.LookupToken(lookupCtx, tokenID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrInvalidToken
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: token lookup timed out", ErrUnavailable)
	case err != nil:
		return nil, fmt.Errorf("%w: token lookup: %v", ErrUnavailable, err)
	}

	// Digest comparison runs before the usability checks so the
	// work done is the same for every failure mode.
	digest := DigestSecret(rawSecret)
	digestOK := subtle.ConstantTimeCompare(digest, record.SecretDigest) == 1
	if !digestOK || !record.Usable(s.clock.Now()) {
		return nil, ErrInvalidToken
	}

	hydrated := &principal.Principal{
		AccountID:         record.AccountID,
		Kind:              record.Kind,
		GroupID:           record.GroupID,
		IPv4:              identity.IPv4,
		IPv6:              identity.IPv6,
		Name:              identity.Name,
		LastSeenUserAgent: origin.UserAgent,
		LastSeenRemoteIP:  origin.RemoteIP,
		LastSeenLocation: principal.Location{
			Region:         origin.Region,
			City:           origin.City,
			Lat:            origin.Lat,
			Lon:            origin.Lon,
			HasCoordinates: origin.HasCoordinates,
		},
		LastSeenVersion: origin.Version,
		LastSeenAt:      s.clock.Now(),
	}
	if hydrated.Name == "" {
		hydrated.Name = deriveName(record, identity)
	}

	upsertCtx, cancelUpsert := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancelUpsert()

	stored, err := s.store.UpsertPrincipal(upsertCtx, hydrated)
	if err != nil {
		return nil, fmt.Errorf("%w: principal upsert: %v", ErrUnavailable, err)
	}
	return stored, nil
}

// AuthenticateFor combines Authenticate with a kind check. This is
// the standard path for socket endpoints: a gateway token presented
// on the relay endpoint is just an invalid credential.
func (s *Service) AuthenticateFor(ctx context.Context, fragment string, expected principal.Kind, identity Identity, origin geo.Origin) (*principal.Principal, error) {
	p, err := s.Authenticate(ctx, fragment, identity, origin)
	if err != nil {
		return nil, err
	}
	if p.Kind != expected {
		return nil, ErrInvalidToken
	}
	return p, nil
}

// deriveName builds a stable auto-assigned name from the token scope
// and the peer's stable identity, so reconnects upsert the same row
// instead of minting a new principal each time.
func deriveName(record *Record, identity Identity) string {
	seed := record.AccountID + "|" + record.GroupID + "|"
	if identity.IPv4.IsValid() {
		seed += identity.IPv4.String()
	} else if identity.IPv6.IsValid() {
		seed += identity.IPv6.String()
	} else {
		seed += record.ID
	}
	sum := blake3.Sum256([]byte(seed))
	return fmt.Sprintf("%s-%x", record.Kind, sum[:4])
}
