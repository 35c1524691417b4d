// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Command relaymesh-token is the operator CLI for the token lifecycle:
// minting relay, gateway, and client tokens and revoking them.
//
// The mint subcommand prints the fragment exactly once. It is not
// stored anywhere and cannot be recovered; deliver it to the deployment
// out of band.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/relaymesh/relaymesh/lib/config"
	"github.com/relaymesh/relaymesh/lib/principal"
	"github.com/relaymesh/relaymesh/lib/token"
	"github.com/relaymesh/relaymesh/store"
)

const usage = `usage: relaymesh-token [--config FILE] <command>

commands:
  mint          mint a token and print its fragment (once)
  revoke        revoke a single token by ID
  revoke-group  revoke every active token of a group
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relaymesh-token:", err)
		os.Exit(1)
	}
}

func run() error {
	global := pflag.NewFlagSet("relaymesh-token", pflag.ContinueOnError)
	configPath := global.String("config", "", "path to the portal configuration file")
	global.SetInterspersed(false)
	if err := global.Parse(os.Args[1:]); err != nil {
		return err
	}

	args := global.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}

	if *configPath == "" {
		*configPath = os.Getenv(config.EnvVar)
	}
	if *configPath == "" {
		return fmt.Errorf("no configuration: pass --config or set %s", config.EnvVar)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.DatabasePath == "" {
		return fmt.Errorf("config has no database_path; the token CLI needs the persistent store")
	}

	key, err := token.LoadFragmentKey(cfg.FragmentKeyPath)
	if err != nil {
		return err
	}
	defer key.Close()

	sqliteStore, err := store.OpenSQLite(store.SQLiteConfig{
		Path:     cfg.DatabasePath,
		PoolSize: 1,
	})
	if err != nil {
		return err
	}
	defer sqliteStore.Close()

	tokens, err := token.NewService(token.ServiceConfig{
		Store:       sqliteStore,
		FragmentKey: key,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch args[0] {
	case "mint":
		return mint(ctx, tokens, args[1:])
	case "revoke":
		return revoke(ctx, tokens, args[1:])
	case "revoke-group":
		return revokeGroup(ctx, tokens, args[1:])
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func mint(ctx context.Context, tokens *token.Service, args []string) error {
	flags := pflag.NewFlagSet("mint", pflag.ContinueOnError)
	accountID := flags.String("account", "", "account the token is scoped to")
	kindName := flags.String("kind", "", "principal kind: relay, gateway, or client")
	groupID := flags.String("group", "", "relay or gateway group (required for those kinds)")
	ttl := flags.Duration("ttl", 0, "token lifetime, 0 for no expiry")
	if err := flags.Parse(args); err != nil {
		return err
	}

	kind, err := principal.ParseKind(*kindName)
	if err != nil {
		return err
	}

	record, fragment, err := tokens.Mint(ctx, token.MintRequest{
		AccountID: *accountID,
		Kind:      kind,
		GroupID:   *groupID,
		TTL:       *ttl,
	})
	if err != nil {
		return err
	}

	fmt.Printf("token ID:  %s\n", record.ID)
	if !record.ExpiresAt.IsZero() {
		fmt.Printf("expires:   %s\n", record.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("fragment:  %s\n", fragment)
	fmt.Println()
	fmt.Println("The fragment is shown only this once. Store it securely.")
	return nil
}

func revoke(ctx context.Context, tokens *token.Service, args []string) error {
	flags := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
	tokenID := flags.String("id", "", "token ID to revoke")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *tokenID == "" {
		return fmt.Errorf("revoke: --id is required")
	}
	if err := tokens.Revoke(ctx, *tokenID); err != nil {
		return err
	}
	fmt.Printf("revoked %s\n", *tokenID)
	return nil
}

func revokeGroup(ctx context.Context, tokens *token.Service, args []string) error {
	flags := pflag.NewFlagSet("revoke-group", pflag.ContinueOnError)
	groupID := flags.String("group", "", "group whose tokens to revoke")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *groupID == "" {
		return fmt.Errorf("revoke-group: --group is required")
	}
	count, err := tokens.RevokeGroup(ctx, *groupID)
	if err != nil {
		return err
	}
	fmt.Printf("revoked %d token(s) in group %s\n", count, *groupID)
	return nil
}
