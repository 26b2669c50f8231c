package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/docsight/internal/agent"
	"github.com/haasonsaas/docsight/internal/artifacts"
	"github.com/haasonsaas/docsight/internal/auth"
	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/deletion"
	"github.com/haasonsaas/docsight/internal/gateway"
	"github.com/haasonsaas/docsight/internal/llm"
	"github.com/haasonsaas/docsight/internal/materials"
	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/internal/prompts"
	"github.com/haasonsaas/docsight/internal/queue"
	"github.com/haasonsaas/docsight/internal/render"
	"github.com/haasonsaas/docsight/internal/rendercache"
	"github.com/haasonsaas/docsight/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// runServe wires the full server and blocks until shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Server.Debug = true
		cfg.Server.LogLevel = "debug"
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Server.LogLevel,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	metrics := observability.NewMetrics()
	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "docsight",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.SampleRate,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := storage.NewPostgresStores(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	objects, err := artifacts.New(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	defer objects.Close()

	cache, err := rendercache.Open(rendercache.Options{
		Dir:     cfg.EvidenceCache.Dir,
		MaxMB:   cfg.EvidenceCache.MaxMB,
		TTLDays: cfg.EvidenceCache.TTLDays,
		Enabled: cfg.EvidenceCache.Enabled,
	}, log, metrics)
	if err != nil {
		return fmt.Errorf("open evidence cache: %w", err)
	}
	defer cache.Close()

	llmClient, err := llm.New(ctx, cfg.LLM, log, metrics)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}

	resolver := prompts.New(cfg.Prompts.Dir, stores.Prompts, log)
	if err := resolver.Watch(ctx); err != nil {
		log.Warn(ctx, "prompt hot-reload disabled", "error", err)
	}
	defer resolver.Close()

	renderer := render.New(render.FitzRasterizer{}, cache, cfg.Rendering, log, metrics)
	builder := materials.NewBuilder(objects, stores.Projects, stores.Chats, renderer, llmClient, log)
	pipeline := agent.New(stores, objects, llmClient, builder, resolver, cfg, log, tracer)

	admitter := queue.New(cfg.Queue, log, metrics)
	authSvc := auth.NewService(cfg.Auth, stores.Users, log)
	deleter := deletion.NewWorker(stores.Chats, objects, cfg.Logging.DialogDir, log, metrics)

	sweeper := cron.New()
	if cache.Enabled() {
		if _, err := sweeper.AddFunc(cfg.EvidenceCache.SweepSchedule, func() {
			expired, evicted := cache.Sweep()
			log.Info(ctx, "evidence cache sweep", "expired", expired, "evicted", evicted)
		}); err != nil {
			return fmt.Errorf("schedule cache sweep: %w", err)
		}
		sweeper.Start()
	}

	srv := gateway.NewServer(cfg, authSvc, stores, pipeline, admitter, cache, deleter, log, metrics)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	}

	// Teardown order: stop accepting requests, drain the queue, then the
	// deletion backlog, then flush traces.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "server shutdown incomplete", "error", err)
	}
	if err := admitter.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "queue drain incomplete", "error", err)
	}
	<-sweeper.Stop().Done()
	if err := deleter.Close(); err != nil {
		log.Warn(shutdownCtx, "deletion backlog drain incomplete", "error", err)
	}
	if err := stopTracer(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
	}

	log.Info(context.Background(), "server stopped")
	return nil
}
