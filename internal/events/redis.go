// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	owned   bool
}

// NewRedisPublisher publishes on channel using client. The client is not
// closed by Close.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// DialRedisPublisher creates a publisher with its own client.
func DialRedisPublisher(addr, password string, db int, channel string) *RedisPublisher {
	p := NewRedisPublisher(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), channel)
	p.owned = true
	return p
}

// Name implements Publisher.
func (p *RedisPublisher) Name() string { return "redis" }

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	b, err := e.Marshal()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	if p.owned {
		return p.client.Close()
	}
	return nil
}
