// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/kbtasks/internal/adapters"
	"github.com/jeranaias/kbtasks/internal/api"
	"github.com/jeranaias/kbtasks/internal/backoff"
	"github.com/jeranaias/kbtasks/internal/cli"
	"github.com/jeranaias/kbtasks/internal/config"
	"github.com/jeranaias/kbtasks/internal/events"
	"github.com/jeranaias/kbtasks/internal/metrics"
	"github.com/jeranaias/kbtasks/internal/remote"
	"github.com/jeranaias/kbtasks/internal/retry"
	"github.com/jeranaias/kbtasks/internal/scheduler"
	"github.com/jeranaias/kbtasks/internal/storage"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

func newLogger(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

// serve runs the scheduler and the control API until ctx is done.
func serve(ctx context.Context, cfg *config.Config, configPath string, args cli.Args) error {
	if args.Addr != "" {
		cfg.Server.Addr = args.Addr
	}
	if args.Token != "" {
		cfg.Server.AuthToken = args.Token
	}
	logger := newLogger("kbtasks")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// =========================================================================
	// STORAGE
	// =========================================================================

	path, err := cfg.StoragePath()
	if err != nil {
		return err
	}
	backend, err := storage.Open(cfg.Storage.Backend, storage.Options{
		Path:          path,
		Key:           cfg.Storage.Key,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer backend.Close()

	store := tasks.NewStore(backend, cfg.Engine.RetentionCap).WithLogger(newLogger("tasks"))
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	logger.Printf("Loaded %d tasks from %s storage", store.Count(), cfg.Storage.Backend)

	// =========================================================================
	// REMOTE SERVICES AND ADAPTERS
	// =========================================================================

	client := remote.NewClient(cfg.Remote.EmbeddingURL, cfg.Remote.CrawlerURL).
		WithOperatorID(cfg.Remote.OperatorID).
		WithAPIKey(cfg.Remote.APIKey).
		WithTimeout(cfg.Remote.Timeout()).
		WithRateLimit(cfg.Remote.RequestsPerSecond, cfg.Remote.Burst).
		WithLogger(newLogger("remote"))

	opts := adapters.DefaultOptions()
	opts.Poll = backoff.Poll{
		Initial: cfg.Engine.PollInitial(),
		Max:     cfg.Engine.PollMax(),
		Growth:  cfg.Engine.PollGrowthFactor,
		Jitter:  cfg.Engine.PollJitterFactor,
	}
	opts.OnPoll = metrics.ObservePoll
	opts.Logger = newLogger("adapters")

	registry := adapters.NewRegistry(
		adapters.NewDocumentAdapter(client, opts),
		adapters.NewKnowledgeBaseAdapter(client, opts),
		adapters.NewCrawlAdapter(client, opts),
	)

	policy := retry.Policy{
		MaxRetries: cfg.Engine.MaxRetries,
		Backoff:    backoff.Retry{Base: cfg.Engine.RetryBaseDelay(), Factor: cfg.Engine.RetryBackoffFactor},
		Logger:     newLogger("retry"),
	}

	// =========================================================================
	// SCHEDULER
	// =========================================================================

	sched := scheduler.New(store, registry, policy).
		WithLogger(newLogger("scheduler")).
		WithOperatorID(cfg.Remote.OperatorID).
		WithReconcileTimeout(cfg.Engine.ReconcileTimeout())

	if pub := openPublisher(cfg, logger); pub != nil {
		defer pub.Close()
		sched = sched.WithPublisher(pub)
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		cancel()
		sched.Wait()
	}()

	watcher := config.NewWatcher(configPath, func(next *config.Config) {
		sched.ApplyTunables(next.Engine)
	}).WithLogger(newLogger("config"))
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Printf("Config reload disabled: %v", err)
		}
	}()

	// =========================================================================
	// CONTROL API
	// =========================================================================

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(sched, cfg.Server.Addr).
		WithLogger(newLogger("api")).
		WithToken(cfg.Server.AuthToken).
		WithMetrics(cfg.Server.MetricsEnabled).
		WithVersion(cli.Version)

	return srv.ListenAndServe(ctx)
}

// openPublisher connects the configured event sinks. A sink that cannot be
// reached is logged and skipped. Redis events share the storage connection
// settings.
func openPublisher(cfg *config.Config, logger *log.Logger) events.Publisher {
	var sinks events.Multi
	if ch := cfg.Events.RedisChannel; ch != "" {
		sinks = append(sinks, events.DialRedisPublisher(
			cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, ch))
	}
	if cfg.Events.AMQPURL != "" {
		pub, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			logger.Printf("AMQP events disabled: %v", err)
		} else {
			sinks = append(sinks, pub)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}
