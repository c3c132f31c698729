package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// CursorStore persists rotating job cursors across scheduler runs.
type CursorStore interface {
	// Next advances a named cursor and returns its new position modulo
	// the given period.
	Next(ctx context.Context, name string, period int) (int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REFRESH
// ══════════════════════════════════════════════════════════════════════════════

// RefreshCatalogs discovers contests on every platform. Contests inside
// the recent horizon are upserted eagerly on each run; older history is
// walked one rotating page per run so backfilling years of contests
// never burns the whole external API budget at once.
func (s *Service) RefreshCatalogs(ctx context.Context) (int, error) {
	upserted := 0
	for platform, gateway := range s.gateways {
		n, err := s.refreshPlatform(ctx, platform, gateway)
		upserted += n
		if err != nil {
			return upserted, fmt.Errorf("%s catalog: %w", platform, err)
		}
	}
	return upserted, nil
}

func (s *Service) refreshPlatform(ctx context.Context, platform problem.Platform, gateway Gateway) (int, error) {
	contests, err := gateway.Contests(ctx)
	if err != nil {
		return 0, err
	}
	sort.Slice(contests, func(i, j int) bool {
		return contests[i].StartTime.After(contests[j].StartTime)
	})

	cutoff := s.now().Add(-s.cfg.RecentCatalogHorizon)

	var recent, history []*contest.Contest
	for _, c := range contests {
		if c.StartTime.After(cutoff) {
			recent = append(recent, c)
		} else {
			history = append(history, c)
		}
	}

	upserted, err := s.upsertContests(ctx, recent)
	if err != nil {
		return upserted, err
	}

	if len(history) > 0 {
		pages := (len(history) + s.cfg.HistoryPageSize - 1) / s.cfg.HistoryPageSize
		page, err := s.cursors.Next(ctx, "catalog:"+string(platform), pages)
		if err != nil {
			return upserted, fmt.Errorf("history cursor: %w", err)
		}
		start := page * s.cfg.HistoryPageSize
		end := start + s.cfg.HistoryPageSize
		if end > len(history) {
			end = len(history)
		}
		n, err := s.upsertContests(ctx, history[start:end])
		upserted += n
		if err != nil {
			return upserted, err
		}
		s.logger.Debug("history page refreshed",
			slog.String("platform", string(platform)),
			slog.Int("page", page), slog.Int("pages", pages))
	}

	return upserted, nil
}

func (s *Service) upsertContests(ctx context.Context, contests []*contest.Contest) (int, error) {
	upserted := 0
	for _, c := range contests {
		if err := s.contests.Upsert(ctx, c); err != nil {
			return upserted, fmt.Errorf("upsert contest %s: %w", c.ContestID, err)
		}
		upserted++
	}
	return upserted, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBLEM SYNC
// ══════════════════════════════════════════════════════════════════════════════

// SyncContestProblems syncs the problem lists of contests that are
// pending, partial, or stale, bounded per platform to respect external
// rate limits. Judge-native ratings found along the way are seeded into
// the rating cache.
func (s *Service) SyncContestProblems(ctx context.Context, perPlatformCap int) (int, error) {
	if perPlatformCap <= 0 {
		perPlatformCap = 10
	}

	synced := 0
	for platform, gateway := range s.gateways {
		staleBefore := s.now().Add(-s.cfg.ProblemSyncStaleAfter)
		candidates, err := s.contests.ListNeedingSync(ctx, platform, staleBefore, perPlatformCap)
		if err != nil {
			return synced, fmt.Errorf("%s sync candidates: %w", platform, err)
		}
		for _, c := range candidates {
			if ctx.Err() != nil {
				return synced, ctx.Err()
			}
			if err := s.syncOneContest(ctx, gateway, c); err != nil {
				s.logger.Warn("contest problem sync failed",
					slog.String("platform", string(platform)),
					slog.String("contest_id", c.ContestID),
					slog.String("error", err.Error()))
				continue
			}
			synced++
		}
	}
	return synced, nil
}

func (s *Service) syncOneContest(ctx context.Context, gateway Gateway, c *contest.Contest) error {
	problems, err := gateway.ContestProblems(ctx, c)
	if err != nil {
		return fmt.Errorf("fetch problems: %w", err)
	}
	if len(problems) == 0 {
		return s.contests.UpdateSyncState(ctx, c.Platform, c.ContestID, contest.SyncDone, contest.SummaryNone, s.now())
	}

	if err := s.contestProblems.UpsertBatch(ctx, problems); err != nil {
		return fmt.Errorf("store problems: %w", err)
	}

	for _, cp := range problems {
		if cp.NativeRating == nil || cp.URL == "" {
			continue
		}
		if err := s.seeder.SeedNative(ctx, cp.Platform, cp.URL, *cp.NativeRating); err != nil {
			return fmt.Errorf("seed native rating: %w", err)
		}
	}

	summary, err := s.ratingSummary(ctx, problems)
	if err != nil {
		return err
	}
	return s.contests.UpdateSyncState(ctx, c.Platform, c.ContestID, contest.SyncDone, summary, s.now())
}

// ratingSummary classifies how much of a problem list has a usable
// rating right now.
func (s *Service) ratingSummary(ctx context.Context, problems []*contest.ContestProblem) (contest.RatingSummary, error) {
	urls := make([]string, 0, len(problems))
	for _, cp := range problems {
		if cp.URL != "" {
			urls = append(urls, cp.URL)
		}
	}
	if len(urls) == 0 {
		return contest.SummaryNone, nil
	}

	entries, err := s.cache.GetBatch(ctx, urls)
	if err != nil {
		return contest.SummaryNone, fmt.Errorf("rating batch: %w", err)
	}

	rated := 0
	for _, url := range urls {
		if entry, ok := entries[url]; ok && entry.EffectiveRating != nil {
			rated++
		}
	}
	switch {
	case rated == 0:
		return contest.SummaryNone, nil
	case rated == len(urls):
		return contest.SummaryFull, nil
	default:
		return contest.SummaryPartial, nil
	}
}
