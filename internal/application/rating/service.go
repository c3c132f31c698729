// Package rating owns the problem rating cache and its fetch pipeline:
// cache reads with scheduled refresh, fetch result application, the
// backfill retry loop and the healing passes that repair cache drift.
// Every cache writer goes through this package so the derived
// effective-rating pair never desynchronizes.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Fetcher performs the actual external difficulty lookup.
type Fetcher interface {
	FetchRating(ctx context.Context, platform problem.Platform, problemURL, nameHint string) (*problem.FetchResult, error)
}

// PendingResolver re-scores events waiting on a URL once its rating
// resolves.
type PendingResolver interface {
	ResolvePending(ctx context.Context, platform problem.Platform, url string, rating int) (int, error)
}

// Config bounds the retry pipeline.
type Config struct {
	CacheTTL      time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	Cooldown      time.Duration
	StarvationAge time.Duration
	PerRunLimit   int
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service is the rating cache front.
type Service struct {
	cache           problem.CacheRepository
	queue           problem.FetchQueue
	contests        contest.Repository
	contestProblems contest.ProblemRepository
	fetcher         Fetcher
	resolver        PendingResolver
	cfg             Config
	logger          *slog.Logger
	now             func() time.Time
}

// NewService creates a Service. The pending resolver is bound separately
// because the scoring engine and this service reference each other.
func NewService(
	cache problem.CacheRepository,
	queue problem.FetchQueue,
	contests contest.Repository,
	contestProblems contest.ProblemRepository,
	fetcher Fetcher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:           cache,
		queue:           queue,
		contests:        contests,
		contestProblems: contestProblems,
		fetcher:         fetcher,
		cfg:             cfg,
		logger:          logger,
		now:             time.Now,
	}
}

// BindResolver attaches the pending-event resolver. Must be called
// before the fetch worker starts.
func (s *Service) BindResolver(r PendingResolver) {
	s.resolver = r
}

// ─────────────────────────────────────────────────────────────────────────────
// Cache reads
// ─────────────────────────────────────────────────────────────────────────────

// GetOrSchedule returns the best-known cache entry for a URL, possibly
// nil. When the entry is missing, stale or corrupt and schedule is true,
// a deduplicated fetch request is enqueued instead of fetching inline;
// callers must tolerate a possibly-null rating now and rely on pending
// resolution later.
func (s *Service) GetOrSchedule(ctx context.Context, platform problem.Platform, url, nameHint string, priority problem.FetchPriority, schedule bool) (*problem.CacheEntry, error) {
	url = problem.NormalizeURL(url)
	if url == "" {
		return nil, nil
	}

	entry, err := s.cache.Get(ctx, url)
	if err != nil && !errors.Is(err, problem.ErrNotCached) {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	now := s.now()
	if entry != nil && entry.Fresh(now, s.cfg.CacheTTL) && !entry.Corrupt() {
		switch entry.Status {
		case problem.StatusOK, problem.StatusNotFound:
			return entry, nil
		}
	}

	if schedule {
		if err := s.enqueue(ctx, platform, url, nameHint, priority); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

// SeedNative records a judge-reported rating for a URL, creating the
// cache entry if needed. Codeforces publishes these; they serve as the
// effective rating until the aggregator answers.
func (s *Service) SeedNative(ctx context.Context, platform problem.Platform, url string, nativeRating int) error {
	url = problem.NormalizeURL(url)
	if url == "" {
		return nil
	}

	entry, err := s.cache.Get(ctx, url)
	if err != nil {
		if !errors.Is(err, problem.ErrNotCached) {
			return fmt.Errorf("cache get: %w", err)
		}
		entry = &problem.CacheEntry{
			URL:      url,
			Platform: platform,
			Status:   problem.StatusTempFail,
		}
	}
	if entry.NativeRating != nil && *entry.NativeRating == nativeRating {
		return nil
	}

	entry.NativeRating = &nativeRating
	entry.RecomputeEffective()
	entry.UpdatedAt = s.now()
	if err := s.cache.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, platform problem.Platform, url, nameHint string, priority problem.FetchPriority) error {
	created, err := s.queue.Enqueue(ctx, &problem.FetchRequest{
		URL:        url,
		Platform:   platform,
		NameHint:   nameHint,
		Priority:   priority,
		State:      problem.FetchQueued,
		EnqueuedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("enqueue fetch: %w", err)
	}
	if created {
		if _, err := s.contestProblems.SetRatingStatusByURL(ctx, url, contest.ProblemQueued); err != nil {
			return fmt.Errorf("mark queued: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fetch result application
// ─────────────────────────────────────────────────────────────────────────────

// ApplyFetchResult persists one adapter answer and fans out the status
// change: OK marks dependent contest problems and re-scores pending
// events; NOT_FOUND on Codeforces tries split-round alias resolution
// before sticking; transient failures keep the entry retryable.
func (s *Service) ApplyFetchResult(ctx context.Context, req *problem.FetchRequest, res *problem.FetchResult) error {
	url := problem.NormalizeURL(req.URL)
	now := s.now()

	entry, err := s.cache.Get(ctx, url)
	if err != nil {
		if !errors.Is(err, problem.ErrNotCached) {
			return fmt.Errorf("cache get: %w", err)
		}
		entry = &problem.CacheEntry{URL: url, Platform: req.Platform}
	}

	switch res.Status {
	case problem.StatusOK:
		entry.AggregatorRating = res.Rating
		entry.ExternalID = res.ExternalID
		if res.ProblemName != "" {
			entry.ProblemName = res.ProblemName
		}
		entry.Status = problem.StatusOK
		entry.Attempts = 0
		entry.LastError = ""
		entry.NextRetryAt = nil
		entry.FetchedAt = now
		entry.RecomputeEffective()
		entry.UpdatedAt = now
		if err := s.cache.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("cache upsert: %w", err)
		}
		return s.markResolved(ctx, entry)

	case problem.StatusNotFound:
		if req.Platform == problem.PlatformCodeforces {
			healed, err := s.resolveAlias(ctx, url)
			if err != nil {
				s.logger.Warn("alias resolution failed",
					slog.String("url", url), slog.String("error", err.Error()))
			} else if healed {
				return nil
			}
		}
		entry.Status = problem.StatusNotFound
		entry.Attempts = 0
		entry.LastError = ""
		entry.NextRetryAt = nil
		entry.FetchedAt = now
		entry.UpdatedAt = now
		if err := s.cache.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("cache upsert: %w", err)
		}
		if _, err := s.contestProblems.SetRatingStatusByURL(ctx, url, contest.ProblemNotFound); err != nil {
			return fmt.Errorf("mark not found: %w", err)
		}
		return nil

	default: // TEMP_FAIL, RATE_LIMITED, ERROR
		entry.Status = res.Status
		entry.Attempts++
		entry.LastError = res.Err
		retryAt := now.Add(problem.NextBackoff(s.cfg.BackoffBase, s.cfg.BackoffCap, entry.Attempts))
		entry.NextRetryAt = &retryAt
		entry.UpdatedAt = now
		if err := s.cache.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("cache upsert: %w", err)
		}
		status := contest.ProblemTempFail
		if res.Status == problem.StatusRateLimited {
			status = contest.ProblemRateLimited
		}
		if _, err := s.contestProblems.SetRatingStatusByURL(ctx, url, status); err != nil {
			return fmt.Errorf("mark temp fail: %w", err)
		}
		return nil
	}
}

// markResolved fans an OK entry out to contest problems and pending
// events.
func (s *Service) markResolved(ctx context.Context, entry *problem.CacheEntry) error {
	if _, err := s.contestProblems.SetRatingStatusByURL(ctx, entry.URL, contest.ProblemOK); err != nil {
		return fmt.Errorf("mark ok: %w", err)
	}
	if s.resolver == nil || entry.EffectiveRating == nil {
		return nil
	}
	n, err := s.resolver.ResolvePending(ctx, entry.Platform, entry.URL, *entry.EffectiveRating)
	if err != nil {
		return fmt.Errorf("resolve pending: %w", err)
	}
	if n > 0 {
		s.logger.Info("pending events resolved",
			slog.String("url", entry.URL), slog.Int("events", n))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fetch worker
// ─────────────────────────────────────────────────────────────────────────────

// ProcessNext claims and works one queued fetch request. Returns false
// when the queue has nothing eligible.
func (s *Service) ProcessNext(ctx context.Context) (bool, error) {
	req, err := s.queue.Claim(ctx, s.now())
	if err != nil {
		if errors.Is(err, problem.ErrQueueEmpty) {
			return false, nil
		}
		return false, fmt.Errorf("claim: %w", err)
	}

	res, err := s.fetcher.FetchRating(ctx, req.Platform, req.URL, req.NameHint)
	if err != nil {
		// Context cancellation: put the request back untouched.
		req.NotBefore = s.now().Add(s.cfg.BackoffBase)
		if rerr := s.queue.Reschedule(ctx, req); rerr != nil {
			return true, fmt.Errorf("reschedule: %w", rerr)
		}
		return true, err
	}

	if err := s.ApplyFetchResult(ctx, req, res); err != nil {
		return true, err
	}

	switch res.Status {
	case problem.StatusOK, problem.StatusNotFound:
		if err := s.queue.MarkDone(ctx, req.ID); err != nil {
			return true, fmt.Errorf("mark done: %w", err)
		}
	default:
		req.Attempts++
		req.LastError = res.Err
		if req.Attempts >= s.cfg.MaxAttempts {
			if err := s.queue.MarkFailed(ctx, req.ID, res.Err); err != nil {
				return true, fmt.Errorf("mark failed: %w", err)
			}
			s.logger.Warn("fetch request exhausted",
				slog.String("url", req.URL), slog.Int("attempts", req.Attempts))
		} else {
			req.NotBefore = s.now().Add(problem.NextBackoff(s.cfg.BackoffBase, s.cfg.BackoffCap, req.Attempts))
			if err := s.queue.Reschedule(ctx, req); err != nil {
				return true, fmt.Errorf("reschedule: %w", err)
			}
		}
	}
	return true, nil
}

// ReleaseStuck frees fetch requests whose worker died mid-call.
func (s *Service) ReleaseStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.queue.ReleaseStuck(ctx, s.now(), maxAge)
}

// QueueDepth reports the number of queued fetch requests.
func (s *Service) QueueDepth(ctx context.Context) (int, error) {
	return s.queue.Depth(ctx)
}

// CacheCounts reports cache entry counts grouped by status.
func (s *Service) CacheCounts(ctx context.Context) (map[problem.RatingStatus]int, error) {
	return s.cache.CountByStatus(ctx)
}
