// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the portal's YAML configuration.
//
// The file location comes from the --config flag or the
// RELAYMESH_CONFIG environment variable; there is no search path and
// no discovery. Every field has a default so a minimal deployment can
// run from an almost-empty file, but the fragment key path is
// mandatory: the portal refuses to guess where key material lives.
package config
