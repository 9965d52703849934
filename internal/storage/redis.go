// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPersister stores the task list under a Redis string key.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister creates a persister for the Redis server at addr.
func NewRedisPersister(addr, password string, db int, key string) *RedisPersister {
	if addr == "" {
		addr = "localhost:6379"
	}
	return NewRedisPersisterWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), key)
}

// NewRedisPersisterWithClient wraps an existing client.
func NewRedisPersisterWithClient(client *redis.Client, key string) *RedisPersister {
	if key == "" {
		key = DefaultKey
	}
	return &RedisPersister{client: client, key: key}
}

// Client returns the underlying Redis client.
func (p *RedisPersister) Client() *redis.Client {
	return p.client
}

// Load implements tasks.Persister.
func (p *RedisPersister) Load(ctx context.Context) ([]byte, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", p.key, err)
	}
	return data, nil
}

// Save implements tasks.Persister.
func (p *RedisPersister) Save(ctx context.Context, data []byte) error {
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", p.key, err)
	}
	return nil
}

// Close implements Backend.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}
