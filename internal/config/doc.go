// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for kbtasks.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation, and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - EngineConfig: Retention, retry, and polling tunables
//   - StorageConfig: Persistence backend selection
//   - RemoteConfig: Embedding and crawler service endpoints
//   - Watcher: Reloads the config file when it changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (KBTASKS_*)
//   - $KBTASKS_HOME/config.toml (default ~/.kbtasks)
//   - $KBTASKS_HOME/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Apply changes while running:
//
//	w := config.NewWatcher(path, func(c *config.Config) {
//	    sched.ApplyTunables(c.Engine)
//	})
//	go w.Run(ctx)
package config
