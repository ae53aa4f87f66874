// Priceflow - Vendor Price Aggregation Pipeline
// Copyright 2026 The Priceflow Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/priceflow/priceflow

// Command server runs the price aggregation service: the HTTP intake and
// read API, the batch consumer pipeline, the consumer autoscaler, and the
// dead-letter drain, all in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/priceflow/priceflow/internal/api"
	"github.com/priceflow/priceflow/internal/broker"
	"github.com/priceflow/priceflow/internal/cache"
	"github.com/priceflow/priceflow/internal/config"
	"github.com/priceflow/priceflow/internal/logging"
	"github.com/priceflow/priceflow/internal/metrics"
	"github.com/priceflow/priceflow/internal/pipeline"
	"github.com/priceflow/priceflow/internal/service"
	"github.com/priceflow/priceflow/internal/store"
	"github.com/priceflow/priceflow/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("configuration failed")
	}
	log := logging.New(cfg.Logging)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Storage.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return err
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	aggregates := store.New(pool, log)
	if err := aggregates.EnsureSchema(ctx); err != nil {
		return err
	}

	// Cache.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	defer redisClient.Close()
	avgCache := cache.New(redisClient, cfg.Cache, m, log)

	// Broker.
	b, err := broker.Connect(cfg.Broker, log)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.EnsureStreams(ctx); err != nil {
		return err
	}

	// Pipeline.
	validationPool := pipeline.NewWorkerPool("validation", cfg.Pipeline.ValidationWorkers, cfg.Pipeline.ValidationQueue, log)
	persistPool := pipeline.NewWorkerPool("persist", cfg.Pipeline.PersistWorkers, cfg.Pipeline.PersistQueue, log)

	validator := validation.NewValidator(validation.NewRegistry())
	persister := pipeline.NewRetryingPersister(aggregates, pipeline.RetryPolicy{
		MaxAttempts: cfg.Pipeline.RetryMaxAttempts,
		BaseDelay:   cfg.Pipeline.RetryBaseDelay,
		MaxDelay:    cfg.Pipeline.RetryMaxDelay,
	}, m, log)
	dlqRouter := pipeline.NewDeadLetterRouter(b, m, log)

	deps := pipeline.ConsumerDeps{
		Validator:      validator,
		Persister:      persister,
		DeadLetter:     dlqRouter,
		Cache:          avgCache,
		ValidationPool: validationPool,
		PersistPool:    persistPool,
		Metrics:        m,
		Log:            log,
	}
	factory := func(ctx context.Context, id int) (pipeline.ManagedConsumer, error) {
		source, err := b.Consumer(ctx)
		if err != nil {
			return nil, err
		}
		c := pipeline.NewBatchConsumer(id, deps)
		if err := c.Start(ctx, source, cfg.Broker.Prefetch); err != nil {
			return nil, err
		}
		return c, nil
	}

	registry := pipeline.NewRegistry(factory, cfg.Scaler.MinConsumers, cfg.Pipeline.DrainTimeout, m, log)
	if err := registry.Resize(ctx, cfg.Scaler.MinConsumers); err != nil {
		return err
	}

	scaler := pipeline.NewScaler(registry, b.QueueDepth, cfg.Scaler, m, log)

	dlqConsumer, err := b.DLQConsumer(ctx)
	if err != nil {
		return err
	}
	drain := pipeline.NewDeadLetterDrain(dlqConsumer, m, log)

	// HTTP surface.
	svc := service.New(b, avgCache, aggregates, m, log)
	handlers := api.NewHandlers(svc, svc, log)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers, reg, m, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scaler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := drain.Run(ctx); err != nil {
			log.Error().Err(err).Msg("dead-letter drain failed")
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	// Stop intake first, then drain the pipeline, then release resources.
	// The deferred closes above handle broker, redis, and the pool.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}

	registry.StopAll()
	validationPool.Stop(cfg.Pipeline.DrainTimeout)
	persistPool.Stop(cfg.Pipeline.DrainTimeout)
	wg.Wait()

	log.Info().Msg("shutdown complete")
	return nil
}
