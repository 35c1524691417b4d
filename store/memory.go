// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/lib/principal"
	"github.com/relaymesh/relaymesh/lib/token"
	"github.com/relaymesh/relaymesh/policy"
)

// Memory is an in-memory store for tests and single-process
// development. Safe for concurrent use. Every operation is
// individually atomic, matching the single-row semantics the token
// service assumes.
type Memory struct {
	mu         sync.Mutex
	tokens     map[string]token.Record
	principals map[string]principal.Principal
	resources  map[string][]policy.Resource
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tokens:     make(map[string]token.Record),
		principals: make(map[string]principal.Principal),
		resources:  make(map[string][]policy.Resource),
	}
}

// InsertToken persists a freshly minted record.
func (m *Memory) InsertToken(ctx context.Context, record *token.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tokens[record.ID]; exists {
		return fmt.Errorf("store: token %s already exists", record.ID)
	}
	m.tokens[record.ID] = *record
	return nil
}

// LookupToken fetches a record by ID, including soft-deleted rows.
func (m *Memory) LookupToken(ctx context.Context, id string) (*token.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.tokens[id]
	if !ok {
		return nil, token.ErrNotFound
	}
	copied := record
	return &copied, nil
}

// RevokeToken sets the soft-delete marker. Already-revoked tokens are
// a no-op success.
func (m *Memory) RevokeToken(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.tokens[id]
	if !ok {
		return token.ErrNotFound
	}
	if record.DeletedAt.IsZero() {
		record.DeletedAt = at
		m.tokens[id] = record
	}
	return nil
}

// RevokeGroupTokens soft-deletes every active token bound to a group.
func (m *Memory) RevokeGroupTokens(ctx context.Context, groupID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	revoked := 0
	for id, record := range m.tokens {
		if record.GroupID == groupID && record.DeletedAt.IsZero() {
			record.DeletedAt = at
			m.tokens[id] = record
			revoked++
		}
	}
	return revoked, nil
}

// DeleteToken removes a record outright, as opposed to the soft delete
// of RevokeToken. Tests use this to simulate a store that lost a row.
func (m *Memory) DeleteToken(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[id]; !ok {
		return token.ErrNotFound
	}
	delete(m.tokens, id)
	return nil
}

// UpsertPrincipal creates or updates the principal row keyed by
// account + stable identity (IPv4 when set, otherwise name).
func (m *Memory) UpsertPrincipal(ctx context.Context, record *principal.Principal) (*principal.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := *record
	for id, existing := range m.principals {
		if existing.AccountID != record.AccountID || existing.Kind != record.Kind {
			continue
		}
		if !principalIdentityMatches(&existing, record) {
			continue
		}
		updated.ID = id
		m.principals[id] = updated
		return &updated, nil
	}

	updated.ID = uuid.NewString()
	m.principals[updated.ID] = updated
	return &updated, nil
}

// Principal returns a stored principal by ID, or false when absent.
func (m *Memory) Principal(id string) (principal.Principal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[id]
	return p, ok
}

// principalIdentityMatches applies the upsert key: IPv4 when the
// incoming record has one, display name otherwise.
func principalIdentityMatches(existing, incoming *principal.Principal) bool {
	if incoming.IPv4.IsValid() {
		return existing.IPv4 == incoming.IPv4
	}
	return existing.Name == incoming.Name
}

// Resources returns the account's resources in stored order.
func (m *Memory) Resources(ctx context.Context, accountID string) ([]policy.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.resources[accountID]
	out := make([]policy.Resource, len(stored))
	copy(out, stored)
	return out, nil
}

// ReplaceResources validates and replaces the account's resource set.
// Malformed resources are rejected here so the renderer can assume
// well-formed rows.
func (m *Memory) ReplaceResources(ctx context.Context, accountID string, resources []policy.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range resources {
		if err := policy.Validate(resources[i]); err != nil {
			return fmt.Errorf("store: resource %s: %w", resources[i].ID, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replacement := make([]policy.Resource, len(resources))
	copy(replacement, resources)
	m.resources[accountID] = replacement
	return nil
}
