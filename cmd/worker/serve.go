package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/classifier"
	"firefly-ai-categorize/internal/firefly"
	"firefly-ai-categorize/internal/logging"
	"firefly-ai-categorize/internal/metrics"
	"firefly-ai-categorize/internal/repository/postgresql"
	"firefly-ai-categorize/internal/search"
	"firefly-ai-categorize/internal/service"
	httptransport "firefly-ai-categorize/internal/transport/http"
	"firefly-ai-categorize/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook API and the categorization worker",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger

	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("postgres_dsn", redactDSN(cfg.Database.URL)).
		Str("firefly", cfg.Firefly.BaseURL).
		Str("classifier", cfg.Classifier.Provider).
		Bool("search", cfg.Search.On()).
		Msg("starting")

	pool, err := postgresql.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgresql.Migrate(ctx, pool); err != nil {
		return err
	}

	jobs := postgresql.NewJobRepository(pool)
	cache := postgresql.NewCacheRepository(pool)

	// once per process start, before the loop claims anything
	recovered, err := jobs.RecoverProcessing(ctx)
	if err != nil {
		return fmt.Errorf("recover processing jobs: %w", err)
	}
	log.Info().Int64("count", recovered).Msg("reset interrupted jobs to pending")

	ff := firefly.NewClient(cfg.Firefly.BaseURL, cfg.Firefly.Token, cfg.Firefly.Timeout)

	var categories categorize.CategoryProvider = ff
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			opts.DB = cfg.Redis.DB
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		categories = firefly.NewCachedCategoryProvider(ff, firefly.NewRedisCache(rdb), cfg.Redis.CategoryTTL, logging.Component(log, "categories"))
	}

	var merchantContext categorize.MerchantContextProvider = search.Disabled{}
	if cfg.Search.On() {
		merchantContext = search.NewDuckDuckGo(cfg.Search, nil, logging.Component(log, "search"))
	}

	llm, err := classifier.New(ctx, cfg.Classifier, logging.Component(log, "classifier"))
	if err != nil {
		return err
	}

	engine := categorize.NewEngine(categorize.Deps{
		Categories: categories,
		History:    ff,
		Context:    merchantContext,
		Classifier: llm,
		Cache:      cache,
	}, cfg.Worker.HistoryLimit, logging.Component(log, "engine"))

	workerLog := logging.Component(log, "worker")
	processor := worker.NewProcessor(jobs, engine, ff, cfg.Worker.CompletionTag, cfg.Worker.MaxRetries, workerLog)
	loop := worker.NewLoop(jobs, processor, cfg.Worker.PollInterval, cfg.Worker.DrainDelay, workerLog)

	metrics.RegisterPendingGauge(jobs.PendingCount)

	jobSvc := service.NewJobService(jobs, cfg.Firefly.WebhookSecret, logging.Component(log, "ingest"))
	handler := httptransport.NewHandler(jobSvc, logging.Component(log, "http"))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httptransport.Routes(handler, logging.Component(log, "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("stopped with error")
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
