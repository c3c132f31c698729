// Package main is the entry point for the read API server.
//
// The API serves ranking pages, student summaries and rating pipeline
// statistics from data the worker maintains. It performs no writes
// beyond warming the hot ranking cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maratonahub/cp-tracker/config"
	"github.com/maratonahub/cp-tracker/internal/application/percentile"
	"github.com/maratonahub/cp-tracker/internal/application/rankings"
	"github.com/maratonahub/cp-tracker/internal/application/rating"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/external/clist"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/persistence/postgres"
	redisrepo "github.com/maratonahub/cp-tracker/internal/infrastructure/persistence/redis"
	httpapi "github.com/maratonahub/cp-tracker/internal/interface/http"
	"github.com/maratonahub/cp-tracker/internal/interface/http/handlers"
	"github.com/maratonahub/cp-tracker/pkg/logging"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// Configuration & logging
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("starting api",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"addr", cfg.HTTP.Addr,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL & Redis
	// ─────────────────────────────────────────────────────────────────────────
	db, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	redisCfg := redisrepo.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	cache, err := redisrepo.NewCache(redisCfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer cache.Close()

	hot := redisrepo.NewRankingCache(cache, 2*cfg.Scheduler.SnapshotInterval)

	// ─────────────────────────────────────────────────────────────────────────
	// Repositories & services
	// ─────────────────────────────────────────────────────────────────────────
	students := postgres.NewStudentRepository(db)
	submissions := postgres.NewSubmissionRepository(db)
	contests := postgres.NewContestRepository(db)
	contestProblems := postgres.NewContestProblemRepository(db)
	ratingCache := postgres.NewRatingCacheRepository(db)
	fetchQueue := postgres.NewFetchQueueRepository(db)
	events := postgres.NewScoreEventRepository(db)
	aggregates := postgres.NewAggregateRepository(db)
	snapshots := postgres.NewSnapshotRepository(db)

	clistCfg := clist.DefaultClientConfig(cfg.Aggregator.BaseURL)
	clistCfg.Timeout = cfg.Aggregator.RequestTimeout
	clistCfg.Logger = log
	if user, key, ok := strings.Cut(cfg.Aggregator.APIKey, ":"); ok {
		clistCfg.Username = user
		clistCfg.APIKey = key
	} else {
		clistCfg.APIKey = cfg.Aggregator.APIKey
	}
	aggregator := clist.NewClient(clistCfg)

	percentiles := percentile.NewProvider(ratingCache, submissions, events,
		cfg.Scoring.DistributionBuckets, log)

	// The API never enqueues fetches; the service is wired read-only for
	// cache and queue statistics.
	ratingSvc := rating.NewService(ratingCache, fetchQueue, contests, contestProblems,
		aggregator, rating.Config{CacheTTL: cfg.Scoring.CacheTTL}, log)

	rankingsSvc := rankings.NewService(students, aggregates, events, snapshots,
		hot, percentiles, log)

	// ─────────────────────────────────────────────────────────────────────────
	// Health checks
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.NewPingCheck(db))
	health.AddCheck("redis", handlers.NewPingCheck(cache))
	health.AddCheck("aggregator", handlers.NewJudgeCheck("aggregator", aggregator))

	// ─────────────────────────────────────────────────────────────────────────
	// HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Addr = cfg.HTTP.Addr
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		Rankings:    rankingsSvc,
		Students:    students,
		Aggregates:  aggregates,
		Events:      events,
		Submissions: submissions,
		Ratings:     ratingSvc,
		Percentiles: percentiles,
		Health:      health,
		Logger:      log,
	})

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
