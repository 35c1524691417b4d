// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/relaymesh/relaymesh/lib/principal"
	"github.com/relaymesh/relaymesh/lib/sqlitepool"
	"github.com/relaymesh/relaymesh/lib/token"
	"github.com/relaymesh/relaymesh/policy"
)

// schema creates the portal tables. Filters are stored as a JSON
// column: they are only ever read back whole, and a join table would
// buy nothing but write amplification.
const schema = `
	CREATE TABLE IF NOT EXISTS tokens (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL,
		kind          INTEGER NOT NULL,
		group_id      TEXT NOT NULL DEFAULT '',
		secret_digest TEXT NOT NULL,
		expires_at    INTEGER,
		created_at    INTEGER NOT NULL,
		deleted_at    INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_group ON tokens(group_id);

	CREATE TABLE IF NOT EXISTS principals (
		id                   TEXT PRIMARY KEY,
		account_id           TEXT NOT NULL,
		kind                 INTEGER NOT NULL,
		group_id             TEXT NOT NULL DEFAULT '',
		ipv4                 TEXT,
		ipv6                 TEXT,
		name                 TEXT NOT NULL,
		last_seen_user_agent TEXT NOT NULL DEFAULT '',
		last_seen_remote_ip  TEXT,
		last_seen_region     TEXT NOT NULL DEFAULT '',
		last_seen_city       TEXT NOT NULL DEFAULT '',
		last_seen_lat        REAL,
		last_seen_lon        REAL,
		last_seen_version    TEXT NOT NULL DEFAULT '',
		last_seen_at         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_principals_identity ON principals(account_id, kind, ipv4, name);

	CREATE TABLE IF NOT EXISTS resources (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		type       TEXT NOT NULL,
		address    TEXT NOT NULL,
		name       TEXT NOT NULL,
		filters    TEXT NOT NULL,
		position   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resources_account ON resources(account_id, position);
`

// SQLite is the production store, backed by a lib/sqlitepool pool.
type SQLite struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// SQLiteConfig holds the parameters for opening the portal store.
type SQLiteConfig struct {
	// Path is the filesystem path to the database file. Required.
	Path string

	// PoolSize is passed through to the connection pool.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// OpenSQLite opens (and if necessary creates) the portal database.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &SQLite{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

// InsertToken persists a freshly minted record.
func (s *SQLite) InsertToken(ctx context.Context, record *token.Record) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO tokens
		(id, account_id, kind, group_id, secret_digest, expires_at, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`, &sqlitex.ExecOptions{
		Args: []any{
			record.ID,
			record.AccountID,
			int(record.Kind),
			record.GroupID,
			hex.EncodeToString(record.SecretDigest),
			nullableUnix(record.ExpiresAt),
			record.CreatedAt.Unix(),
		},
	})
	if err != nil {
		return fmt.Errorf("store: insert token %s: %w", record.ID, err)
	}
	return nil
}

// LookupToken fetches a record by ID, including soft-deleted rows.
func (s *SQLite) LookupToken(ctx context.Context, id string) (*token.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var record *token.Record
	err = sqlitex.Execute(conn, `SELECT id, account_id, kind, group_id, secret_digest,
		expires_at, created_at, deleted_at FROM tokens WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			digest, err := hex.DecodeString(stmt.ColumnText(4))
			if err != nil {
				return fmt.Errorf("corrupt secret digest: %w", err)
			}
			record = &token.Record{
				ID:           stmt.ColumnText(0),
				AccountID:    stmt.ColumnText(1),
				Kind:         principal.Kind(stmt.ColumnInt64(2)),
				GroupID:      stmt.ColumnText(3),
				SecretDigest: digest,
				CreatedAt:    time.Unix(stmt.ColumnInt64(6), 0),
			}
			if !stmt.ColumnIsNull(5) {
				record.ExpiresAt = time.Unix(stmt.ColumnInt64(5), 0)
			}
			if !stmt.ColumnIsNull(7) {
				record.DeletedAt = time.Unix(stmt.ColumnInt64(7), 0)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: lookup token %s: %w", id, err)
	}
	if record == nil {
		return nil, token.ErrNotFound
	}
	return record, nil
}

// RevokeToken sets the soft-delete marker. Already-revoked tokens are
// a no-op success.
func (s *SQLite) RevokeToken(ctx context.Context, id string, at time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var exists bool
	err = sqlitex.Execute(conn, `SELECT 1 FROM tokens WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("store: revoke token %s: %w", id, err)
	}
	if !exists {
		return token.ErrNotFound
	}

	err = sqlitex.Execute(conn, `UPDATE tokens SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		&sqlitex.ExecOptions{Args: []any{at.Unix(), id}})
	if err != nil {
		return fmt.Errorf("store: revoke token %s: %w", id, err)
	}
	return nil
}

// RevokeGroupTokens soft-deletes every active token bound to a group.
func (s *SQLite) RevokeGroupTokens(ctx context.Context, groupID string, at time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE tokens SET deleted_at = ?
		WHERE group_id = ? AND deleted_at IS NULL`,
		&sqlitex.ExecOptions{Args: []any{at.Unix(), groupID}})
	if err != nil {
		return 0, fmt.Errorf("store: revoke group %s: %w", groupID, err)
	}
	return conn.Changes(), nil
}

// UpsertPrincipal creates or updates the principal row keyed by
// account + stable identity (IPv4 when set, otherwise name). The
// lookup and write run inside one IMMEDIATE transaction so two
// simultaneous connects for the same peer cannot create two rows.
func (s *SQLite) UpsertPrincipal(ctx context.Context, record *principal.Principal) (stored *principal.Principal, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("store: upsert principal: %w", err)
	}
	defer endTransaction(&err)

	query := `SELECT id FROM principals WHERE account_id = ? AND kind = ? AND name = ?`
	args := []any{record.AccountID, int(record.Kind), record.Name}
	if record.IPv4.IsValid() {
		query = `SELECT id FROM principals WHERE account_id = ? AND kind = ? AND ipv4 = ?`
		args = []any{record.AccountID, int(record.Kind), record.IPv4.String()}
	}

	var existingID string
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			existingID = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: upsert principal: %w", err)
	}

	updated := *record
	if existingID == "" {
		updated.ID = uuid.NewString()
		err = sqlitex.Execute(conn, `INSERT INTO principals
			(id, account_id, kind, group_id, ipv4, ipv6, name,
			 last_seen_user_agent, last_seen_remote_ip, last_seen_region, last_seen_city,
			 last_seen_lat, last_seen_lon, last_seen_version, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: append([]any{
				updated.ID,
				updated.AccountID,
				int(updated.Kind),
				updated.GroupID,
				nullableAddr(updated.IPv4),
				nullableAddr(updated.IPv6),
				updated.Name,
			}, lastSeenArgs(&updated)...),
		})
	} else {
		updated.ID = existingID
		err = sqlitex.Execute(conn, `UPDATE principals SET
			group_id = ?, ipv4 = ?, ipv6 = ?, name = ?,
			last_seen_user_agent = ?, last_seen_remote_ip = ?, last_seen_region = ?,
			last_seen_city = ?, last_seen_lat = ?, last_seen_lon = ?,
			last_seen_version = ?, last_seen_at = ?
			WHERE id = ?`, &sqlitex.ExecOptions{
			Args: append(append([]any{
				updated.GroupID,
				nullableAddr(updated.IPv4),
				nullableAddr(updated.IPv6),
				updated.Name,
			}, lastSeenArgs(&updated)...), updated.ID),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("store: upsert principal: %w", err)
	}
	return &updated, nil
}

// lastSeenArgs flattens the connect-time metadata columns shared by
// the insert and update paths.
func lastSeenArgs(p *principal.Principal) []any {
	var lat, lon any
	if p.LastSeenLocation.HasCoordinates {
		lat = p.LastSeenLocation.Lat
		lon = p.LastSeenLocation.Lon
	}
	return []any{
		p.LastSeenUserAgent,
		nullableAddr(p.LastSeenRemoteIP),
		p.LastSeenLocation.Region,
		p.LastSeenLocation.City,
		lat,
		lon,
		p.LastSeenVersion,
		p.LastSeenAt.Unix(),
	}
}

// Resources returns the account's resources in stored order.
func (s *SQLite) Resources(ctx context.Context, accountID string) ([]policy.Resource, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var resources []policy.Resource
	err = sqlitex.Execute(conn, `SELECT id, type, address, name, filters
		FROM resources WHERE account_id = ? ORDER BY position`, &sqlitex.ExecOptions{
		Args: []any{accountID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			resource := policy.Resource{
				ID:      stmt.ColumnText(0),
				Type:    policy.ResourceType(stmt.ColumnText(1)),
				Address: stmt.ColumnText(2),
				Name:    stmt.ColumnText(3),
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &resource.Filters); err != nil {
				return fmt.Errorf("corrupt filters for resource %s: %w", resource.ID, err)
			}
			resources = append(resources, resource)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: resources for %s: %w", accountID, err)
	}
	return resources, nil
}

// ReplaceResources validates and replaces the account's resource set
// in one transaction. Malformed resources are rejected here so the
// renderer can assume well-formed rows.
func (s *SQLite) ReplaceResources(ctx context.Context, accountID string, resources []policy.Resource) (err error) {
	for i := range resources {
		if err := policy.Validate(resources[i]); err != nil {
			return fmt.Errorf("store: resource %s: %w", resources[i].ID, err)
		}
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: replace resources: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `DELETE FROM resources WHERE account_id = ?`,
		&sqlitex.ExecOptions{Args: []any{accountID}})
	if err != nil {
		return fmt.Errorf("store: replace resources: %w", err)
	}

	for position, resource := range resources {
		filters, err := json.Marshal(resource.Filters)
		if err != nil {
			return fmt.Errorf("store: encoding filters for %s: %w", resource.ID, err)
		}
		err = sqlitex.Execute(conn, `INSERT INTO resources
			(id, account_id, type, address, name, filters, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				resource.ID,
				accountID,
				string(resource.Type),
				resource.Address,
				resource.Name,
				string(filters),
				position,
			},
		})
		if err != nil {
			return fmt.Errorf("store: insert resource %s: %w", resource.ID, err)
		}
	}
	return nil
}

// nullableUnix converts a possibly-zero time to a nullable unix
// seconds column value.
func nullableUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// nullableAddr converts a possibly-invalid address to a nullable TEXT
// column value.
func nullableAddr(addr netip.Addr) any {
	if !addr.IsValid() {
		return nil
	}
	return addr.String()
}
