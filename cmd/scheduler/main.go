// Package main wires together the scheduler service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/analysis"
	"github.com/senka-social/scheduler/internal/api"
	"github.com/senka-social/scheduler/internal/bsky"
	"github.com/senka-social/scheduler/internal/clock/system"
	"github.com/senka-social/scheduler/internal/config"
	"github.com/senka-social/scheduler/internal/events"
	"github.com/senka-social/scheduler/internal/id/uuid"
	"github.com/senka-social/scheduler/internal/ingest"
	jobstore "github.com/senka-social/scheduler/internal/jobstore/postgres"
	"github.com/senka-social/scheduler/internal/logging"
	"github.com/senka-social/scheduler/internal/metrics"
	"github.com/senka-social/scheduler/internal/store"
	"github.com/senka-social/scheduler/internal/sweep"
	"github.com/senka-social/scheduler/internal/tasks"
	"github.com/senka-social/scheduler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	jobs, err := jobstore.New(ctx, jobstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMin) * time.Minute,
	}, clock, idGen, logger.Named("jobstore"))
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer jobs.Close()
	if err := jobs.EnsureSchema(ctx); err != nil {
		logger.Fatal("job schema init failed", zap.Error(err))
	}

	content, err := store.NewPostgres(ctx, store.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		logger.Fatal("content store init failed", zap.Error(err))
	}
	defer content.Close()
	if err := content.EnsureSchema(ctx); err != nil {
		logger.Fatal("content schema init failed", zap.Error(err))
	}

	var publisher events.Publisher
	if cfg.PubSub.ProjectID != "" {
		pubsubPublisher, err := events.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		publisher = pubsubPublisher
	} else {
		logger.Info("pubsub disabled, events stay in-process")
		publisher = events.NewMemory()
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close failed", zap.Error(err))
		}
	}()

	provider := bsky.NewClient(bsky.ClientConfig{
		BaseURL: cfg.Provider.BaseURL,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		RPS:     cfg.Provider.RPS,
		Burst:   cfg.Provider.Burst,
	})
	analyzer := analysis.NewClient(analysis.ClientConfig{
		BaseURL: cfg.Analysis.BaseURL,
		Timeout: time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
	})

	fetcher := ingest.NewFetcher(provider, content, logger.Named("ingest"), ingest.FetcherConfig{
		FeedPageSize: cfg.Ingest.FeedPageSize,
		LikePageSize: cfg.Ingest.LikePageSize,
		MaxFeedPages: cfg.Ingest.MaxFeedPages,
		MaxLikePages: cfg.Ingest.MaxLikePages,
	})
	prober := ingest.NewProber(
		time.Duration(cfg.Ingest.ProbeTimeoutSeconds)*time.Second,
		logger.Named("probe"),
	)
	extractor := ingest.NewExtractor(content, prober, logger.Named("extract"))

	handlers := tasks.NewHandlers(
		jobs, content, fetcher, extractor, provider, analyzer,
		publisher, clock, logger.Named("tasks"),
		tasks.HandlersConfig{
			FreshnessTTL: time.Duration(cfg.Worker.FreshnessTTLHours) * time.Hour,
			SweepBatches: tasks.SweepBatches{
				Users:   cfg.Worker.SweepUserBatch,
				Domains: cfg.Worker.SweepDomainBatch,
				Posts:   cfg.Worker.SweepPostBatch,
			},
		},
	)
	registry := tasks.NewRegistry(logger.Named("registry"))
	handlers.RegisterAll(registry)

	pool := worker.New(jobs, registry, logger.Named("worker"), worker.Config{
		Workers:      cfg.Worker.Concurrency,
		Queue:        cfg.Worker.Queue,
		PollInterval: time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
		JobTimeout:   time.Duration(cfg.Worker.JobTimeoutSeconds) * time.Second,
	})

	sweeper := sweep.New(jobs, logger.Named("sweep"), cfg.Sweep.Schedule)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("sweep schedule init failed", zap.Error(err))
	}
	defer sweeper.Stop()

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(jobs, registry, jobs.Ping, logger.Named("api"), api.Config{
		APIKey: apiKey,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := pool.Run(ctx); err != nil {
			logger.Error("worker pool error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
