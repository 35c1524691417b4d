// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Command relaymesh-portal runs the control-plane daemon: the per-role
// WebSocket endpoints, presence tracking, and the status API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/relaymesh/relaymesh/lib/config"
	"github.com/relaymesh/relaymesh/lib/token"
	"github.com/relaymesh/relaymesh/policy"
	"github.com/relaymesh/relaymesh/presence"
	"github.com/relaymesh/relaymesh/socket"
	"github.com/relaymesh/relaymesh/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relaymesh-portal:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to the portal configuration file")
	pflag.Parse()

	if configPath == "" {
		configPath = os.Getenv(config.EnvVar)
	}
	if configPath == "" {
		return fmt.Errorf("no configuration: pass --config or set %s", config.EnvVar)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	key, err := token.LoadFragmentKey(cfg.FragmentKeyPath)
	if err != nil {
		return err
	}
	defer key.Close()

	var tokenStore token.Store
	var policySource policy.Source
	if cfg.DatabasePath != "" {
		sqliteStore, err := store.OpenSQLite(store.SQLiteConfig{
			Path:     cfg.DatabasePath,
			PoolSize: cfg.DatabasePoolSize,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		tokenStore, policySource = sqliteStore, sqliteStore
	} else {
		logger.Warn("no database_path configured, using the in-memory store; tokens will not survive a restart")
		memory := store.NewMemory()
		tokenStore, policySource = memory, memory
	}

	tokens, err := token.NewService(token.ServiceConfig{
		Store:         tokenStore,
		FragmentKey:   key,
		Logger:        logger,
		LookupTimeout: cfg.AuthLookupTimeout.Std(),
	})
	if err != nil {
		return err
	}

	tracker := presence.NewTracker(presence.Config{Logger: logger})

	server, err := socket.NewServer(socket.Config{
		Address:              cfg.ListenAddr,
		Tokens:               tokens,
		Tracker:              tracker,
		Policies:             policySource,
		Logger:               logger,
		HeartbeatInterval:    cfg.HeartbeatInterval.Std(),
		HeartbeatTimeout:     cfg.HeartbeatTimeout.Std(),
		CompressionThreshold: cfg.CompressionThreshold,
		AuthRatePerSecond:    cfg.AuthRatePerSecond,
		AuthRateBurst:        cfg.AuthRateBurst,
		ShutdownTimeout:      cfg.ShutdownTimeout.Std(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx)
}

// buildLogger constructs the process logger from the config's level
// and format.
func buildLogger(cfg config.Portal) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("parsing log_level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
}
