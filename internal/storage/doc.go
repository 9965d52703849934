// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides persistence backends for the task list.
//
// The whole list is stored as one JSON document under a single key, so
// every backend only needs to read and replace one value:
//
//   - FilePersister: a JSON file written atomically
//   - SQLitePersister: a row in a key/value table (modernc.org/sqlite, no cgo)
//   - RedisPersister: a Redis string key
//
// Open selects a backend by name.
package storage
