// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config
// flag is given.
const EnvVar = "RELAYMESH_CONFIG"

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Portal is the full configuration of the relaymesh portal daemon.
type Portal struct {
	// ListenAddr is the HTTP listen address for the socket endpoints
	// and the status API.
	ListenAddr string `yaml:"listen_addr"`

	// DatabasePath is the SQLite database file. Empty selects the
	// in-memory store, which loses all tokens on restart — development
	// only.
	DatabasePath string `yaml:"database_path"`

	// DatabasePoolSize is the SQLite connection pool size. Zero uses
	// the pool's default.
	DatabasePoolSize int `yaml:"database_pool_size"`

	// FragmentKeyPath is the file holding the 32-byte fragment MAC
	// key, hex or raw. Required.
	FragmentKeyPath string `yaml:"fragment_key_path"`

	// AuthLookupTimeout bounds the store round-trip during
	// authentication.
	AuthLookupTimeout Duration `yaml:"auth_lookup_timeout"`

	// HeartbeatInterval is how often the server pings each connection;
	// HeartbeatTimeout is how long after a ping the pong must arrive
	// before the connection is dropped.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout"`

	// AuthRatePerSecond and AuthRateBurst shape the per-remote-IP
	// token bucket applied before authentication.
	AuthRatePerSecond float64 `yaml:"auth_rate_per_second"`
	AuthRateBurst     int     `yaml:"auth_rate_burst"`

	// CompressionThreshold is the payload size in bytes above which
	// socket envelopes are sent zstd-compressed as binary frames.
	CompressionThreshold int `yaml:"compression_threshold"`

	// ShutdownTimeout bounds the graceful drain on daemon shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`
}

// Default returns a Portal with every optional field at its default.
func Default() Portal {
	return Portal{
		ListenAddr:           ":8443",
		AuthLookupTimeout:    Duration(5 * time.Second),
		HeartbeatInterval:    Duration(30 * time.Second),
		HeartbeatTimeout:     Duration(10 * time.Second),
		AuthRatePerSecond:    5,
		AuthRateBurst:        10,
		CompressionThreshold: 4096,
		ShutdownTimeout:      Duration(15 * time.Second),
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load reads and validates a portal configuration file. Fields absent
// from the file keep their defaults.
func Load(path string) (Portal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Portal{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates configuration bytes.
func Parse(raw []byte) (Portal, error) {
	portal := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&portal); err != nil {
		return Portal{}, fmt.Errorf("config: parsing: %w", err)
	}
	if err := portal.validate(); err != nil {
		return Portal{}, err
	}
	return portal, nil
}

func (p *Portal) validate() error {
	if p.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if p.FragmentKeyPath == "" {
		return fmt.Errorf("config: fragment_key_path is required")
	}
	if p.HeartbeatInterval.Std() <= 0 || p.HeartbeatTimeout.Std() <= 0 {
		return fmt.Errorf("config: heartbeat interval and timeout must be positive")
	}
	if p.HeartbeatTimeout.Std() >= p.HeartbeatInterval.Std() {
		return fmt.Errorf("config: heartbeat_timeout must be shorter than heartbeat_interval")
	}
	if p.AuthRatePerSecond <= 0 || p.AuthRateBurst <= 0 {
		return fmt.Errorf("config: auth rate limit must be positive")
	}
	switch p.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", p.LogLevel)
	}
	switch p.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", p.LogFormat)
	}
	return nil
}
