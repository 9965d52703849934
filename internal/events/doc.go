// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events publishes task lifecycle events to external sinks.
//
// # Key Types
//
//   - Event: One lifecycle change (added, started, retrying, completed, ...)
//   - Publisher: A sink; Redis pub/sub and AMQP topic exchanges are provided
//   - Multi: Fans out to several sinks and joins their errors
//   - Recorder: Keeps events in memory
//
// # Usage
//
//	pub := events.Multi{
//	    events.DialRedisPublisher("localhost:6379", "", 0, "kbtasks"),
//	}
//	defer pub.Close()
//	pub.Publish(ctx, events.New(events.KindCompleted, task))
package events
