// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"errors"
	"time"

	"github.com/relaymesh/relaymesh/lib/principal"
)

// Errors surfaced by authentication and the token lifecycle.
var (
	// ErrMissingToken means no credential was supplied at all. Kept
	// distinct from ErrInvalidToken because it indicates a malformed
	// client rather than an attack attempt, and the boundary maps it
	// to a different status.
	ErrMissingToken = errors.New("token: missing token")

	// ErrInvalidToken covers every credential failure: malformed
	// fragment, unknown id, digest mismatch, expired, revoked. One
	// signal, deliberately — distinguishing them would hand an
	// attacker a probe.
	ErrInvalidToken = errors.New("token: invalid token")

	// ErrUnavailable means the store did not answer within the
	// bounded lookup timeout. The connection is closed rather than
	// held open; retry is the peer's concern.
	ErrUnavailable = errors.New("token: store unavailable")

	// ErrNotFound is returned by Store lookups for absent rows. The
	// service translates it to ErrInvalidToken on the
	// authentication path.
	ErrNotFound = errors.New("token: not found")
)

// Record is a stored token. The raw secret never appears here — only
// its digest.
type Record struct {
	// ID is the opaque token identifier embedded in fragments.
	ID string

	// AccountID scopes the token.
	AccountID string

	// Kind is the principal kind this token authenticates.
	Kind principal.Kind

	// GroupID is the relay or gateway group the token is bound to.
	// Empty for client tokens.
	GroupID string

	// SecretDigest is the BLAKE3 digest of the raw secret.
	SecretDigest []byte

	// ExpiresAt bounds the token's life. Zero means no expiry.
	ExpiresAt time.Time

	// CreatedAt is when the token was minted.
	CreatedAt time.Time

	// DeletedAt is the soft-delete marker set by Revoke. Zero means
	// active.
	DeletedAt time.Time
}

// Usable reports whether the record can authenticate at the given
// time: not revoked and not expired.
func (r *Record) Usable(now time.Time) bool {
	if !r.DeletedAt.IsZero() {
		return false
	}
	if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
		return false
	}
	return true
}

// Store is the persistence surface the token service needs. The store
// package provides the SQLite and in-memory implementations.
//
// LookupToken returns soft-deleted rows too; the service applies the
// usability checks so that revoked, expired, and unknown tokens all
// collapse to the same failure signal at one place.
type Store interface {
	// InsertToken persists a freshly minted record.
	InsertToken(ctx context.Context, record *Record) error

	// LookupToken fetches a record by ID, ErrNotFound when absent.
	LookupToken(ctx context.Context, id string) (*Record, error)

	// RevokeToken sets the soft-delete marker. ErrNotFound when the
	// token does not exist; revoking an already-revoked token is a
	// no-op success.
	RevokeToken(ctx context.Context, id string, at time.Time) error

	// RevokeGroupTokens soft-deletes every active token bound to a
	// group, returning how many were revoked. Used when a group's
	// deployment is rotated or deleted.
	RevokeGroupTokens(ctx context.Context, groupID string, at time.Time) (int, error)

	// UpsertPrincipal creates or updates the principal row keyed by
	// account + stable identity (IPv4 when set, otherwise name) and
	// returns the stored principal, ID populated.
	UpsertPrincipal(ctx context.Context, record *principal.Principal) (*principal.Principal, error)
}
