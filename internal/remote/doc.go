// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote provides HTTP clients for the embedding and crawler services.
//
// All requests share one connection pool and one rate limiter, so status
// polls from every running task together stay under the configured rate.
// HTTP failures map to sentinel errors (ErrInvalidRequest, ErrUnauthorized,
// ErrPermissionDenied, ErrNotFound, ErrRateLimited) or *ServerError, whose
// messages drive retry classification.
//
// # Usage
//
//	client := remote.NewClient(cfg.Remote.EmbeddingURL, cfg.Remote.CrawlerURL).
//	    WithOperatorID(cfg.Remote.OperatorID).
//	    WithRateLimit(5, 10)
//	st, err := client.DocumentStatus(ctx, "doc-1", "")
package remote
