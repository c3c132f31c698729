// Package main is the entry point for the background worker.
//
// The worker owns every write path: submission sync against the judge
// APIs, contest catalog refresh, score event creation, rating backfill
// against the difficulty aggregator, window recomputation and ranking
// snapshots. The read API runs as a separate process (cmd/api).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maratonahub/cp-tracker/config"
	"github.com/maratonahub/cp-tracker/internal/application/ingest"
	"github.com/maratonahub/cp-tracker/internal/application/percentile"
	"github.com/maratonahub/cp-tracker/internal/application/rankings"
	"github.com/maratonahub/cp-tracker/internal/application/rating"
	"github.com/maratonahub/cp-tracker/internal/application/score"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/scoring"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/external/atcoder"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/external/clist"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/external/codeforces"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/persistence/postgres"
	redisrepo "github.com/maratonahub/cp-tracker/internal/infrastructure/persistence/redis"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/scheduler"
	"github.com/maratonahub/cp-tracker/internal/infrastructure/scheduler/jobs"
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
	log.Info("starting worker",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	db, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := postgres.NewMigrator(db).Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// Redis
	// ─────────────────────────────────────────────────────────────────────────
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

	locks := redisrepo.NewLockManager(cache)
	cursors := redisrepo.NewCursorStore(cache)
	hot := redisrepo.NewRankingCache(cache, 2*cfg.Scheduler.SnapshotInterval)

	// ─────────────────────────────────────────────────────────────────────────
	// Repositories
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
	conversions := postgres.NewConversionSnapshotRepository(db)

	// ─────────────────────────────────────────────────────────────────────────
	// External clients
	// ─────────────────────────────────────────────────────────────────────────
	clistCfg := clist.DefaultClientConfig(cfg.Aggregator.BaseURL)
	clistCfg.Timeout = cfg.Aggregator.RequestTimeout
	clistCfg.Logger = log
	// AGGREGATOR_API_KEY carries "username:key".
	if user, key, ok := strings.Cut(cfg.Aggregator.APIKey, ":"); ok {
		clistCfg.Username = user
		clistCfg.APIKey = key
	} else {
		clistCfg.APIKey = cfg.Aggregator.APIKey
	}
	aggregator := clist.NewClient(clistCfg)

	cfCfg := codeforces.DefaultClientConfig(cfg.Judges.CodeforcesBaseURL)
	cfCfg.Timeout = cfg.Judges.RequestTimeout
	cfCfg.PageSize = cfg.Judges.SubmissionPageSize
	cfCfg.Logger = log
	cfClient := codeforces.NewClient(cfCfg)

	acCfg := atcoder.DefaultClientConfig(cfg.Judges.AtCoderBaseURL)
	acCfg.Timeout = cfg.Judges.RequestTimeout
	acCfg.Logger = log
	acClient := atcoder.NewClient(acCfg)

	gateways := map[problem.Platform]ingest.Gateway{
		problem.PlatformCodeforces: codeforces.NewGateway(cfClient),
		problem.PlatformAtCoder:    atcoder.NewGateway(acClient),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Application services
	// ─────────────────────────────────────────────────────────────────────────
	percentiles := percentile.NewProvider(ratingCache, submissions, events,
		cfg.Scoring.DistributionBuckets, log)

	ratingSvc := rating.NewService(ratingCache, fetchQueue, contests, contestProblems,
		aggregator, rating.Config{
			CacheTTL:      cfg.Scoring.CacheTTL,
			MaxAttempts:   cfg.Backfill.MaxAttempts,
			BackoffBase:   cfg.Backfill.BackoffBase,
			BackoffCap:    cfg.Backfill.BackoffCap,
			Cooldown:      cfg.Backfill.Cooldown,
			StarvationAge: cfg.Backfill.StarvationAge,
			PerRunLimit:   cfg.Backfill.PerRunLimit,
		}, log)

	engine := score.NewEngine(events, aggregates, contests, ratingSvc, percentiles,
		scoring.PolicyVersion(cfg.Scoring.PolicyVersion), cfg.Scoring.SeasonStart, log)

	// Late-resolved events flow back through the engine.
	ratingSvc.BindResolver(engine)

	ingestSvc := ingest.NewService(students, submissions, contests, contestProblems,
		gateways, engine, ratingSvc, ratingCache, cursors, ingest.Config{
			RatingRefreshMinInterval: cfg.Judges.RatingRefreshMinInterval,
			HistoryPageSize:          cfg.Judges.HistoryPageSize,
		}, log)

	rankingsSvc := rankings.NewService(students, aggregates, events, snapshots,
		hot, percentiles, log)

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         log,
		Timezone:       cfg.App.Location,
		MaxHistorySize: 1000,
	})

	lockTTL := cfg.Backfill.LockTTL
	register := func(job scheduler.Job, interval time.Duration) error {
		return sched.Register(job, scheduler.NewIntervalSchedule(interval))
	}

	for _, reg := range []struct {
		job      scheduler.Job
		interval time.Duration
	}{
		{jobs.NewSyncStudentsJob(ingestSvc, locks, lockTTL, log), cfg.Scheduler.SyncStudentsInterval},
		{jobs.NewCatalogRefreshJob(ingestSvc, locks, lockTTL, log), cfg.Scheduler.CatalogRefreshInterval},
		{jobs.NewProblemSyncJob(ingestSvc, locks, lockTTL, cfg.Backfill.PerPlatformCap, log), cfg.Scheduler.ProblemSyncInterval},
		{jobs.NewRatingBackfillJob(ratingSvc, locks, lockTTL, cfg.Backfill.ClaimTimeout, log), cfg.Scheduler.RatingBackfillInterval},
		{jobs.NewRecomputeWindowsJob(engine, locks, lockTTL, log), cfg.Scheduler.RecomputeWindowsInterval},
		{jobs.NewReconcileTotalsJob(engine, locks, lockTTL, log), cfg.Scheduler.StatsRefreshInterval},
		{jobs.NewRatingStatsJob(percentiles, engine, students, cache, conversions, locks, lockTTL, log), cfg.Scheduler.StatsRefreshInterval},
	} {
		if err := register(reg.job, reg.interval); err != nil {
			return fmt.Errorf("register job %s: %w", reg.job.Name(), err)
		}
	}

	// Rankings snapshot fires at a wall-clock time so every day gets
	// exactly one entry in the snapshot history.
	snapshotJob := jobs.NewSnapshotRankingsJob(rankingsSvc, locks, lockTTL, log)
	var snapshotSchedule scheduler.Schedule
	if expr, err := scheduler.ParseCronExpression(cfg.Scheduler.SnapshotCron); err == nil {
		snapshotSchedule = expr
	} else {
		log.Warn("invalid snapshot cron, falling back to interval",
			"cron", cfg.Scheduler.SnapshotCron, "error", err.Error())
		snapshotSchedule = scheduler.NewIntervalSchedule(cfg.Scheduler.SnapshotInterval)
	}
	if err := sched.Register(snapshotJob, snapshotSchedule); err != nil {
		return fmt.Errorf("register job %s: %w", snapshotJob.Name(), err)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	} else {
		log.Warn("scheduler disabled, jobs will not run")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Fetch worker pool
	// ─────────────────────────────────────────────────────────────────────────
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	pool := jobs.NewFetchWorkerPool(ratingSvc,
		cfg.Scheduler.FetchWorkers, cfg.Scheduler.FetchPollInterval, log)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(workerCtx)
	}()

	log.Info("worker is running",
		"jobs", len(sched.ListJobs()),
		"fetch_workers", cfg.Scheduler.FetchWorkers,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	stopWorkers()
	select {
	case <-poolDone:
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("fetch workers did not stop in time")
	}

	log.Info("shutdown complete")
	return nil
}
