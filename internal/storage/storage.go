// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"

	"github.com/jeranaias/kbtasks/internal/tasks"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultKey is the key the task list is stored under.
const DefaultKey = "kbtasks:tasks"

// Backend is a Persister that holds resources.
type Backend interface {
	tasks.Persister
	Close() error
}

// Options configure Open.
type Options struct {
	// Path is the file or database path (file and sqlite backends).
	Path string

	// Key is the storage key (sqlite and redis backends).
	Key string

	// RedisAddr and RedisDB select the Redis server (redis backend).
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the named backend.
func Open(backend string, opts Options) (Backend, error) {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}

	switch backend {
	case BackendFile, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("file backend requires a path")
		}
		return NewFilePersister(opts.Path), nil
	case BackendSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return OpenSQLite(opts.Path, opts.Key)
	case BackendRedis:
		return NewRedisPersister(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.Key), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
