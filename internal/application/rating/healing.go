package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKFILL
// ══════════════════════════════════════════════════════════════════════════════

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	ConflictsReset  int
	AliasesResolved int
	CorruptHealed   int
	Enqueued        int
	AttemptsReset   int
}

// RunBackfill is the core retry loop: heals cache drift, re-enqueues
// retryable contest problems within the per-run budget and un-starves
// rows whose attempt budget ran out long ago.
func (s *Service) RunBackfill(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport
	var err error

	if report.ConflictsReset, err = s.healConflicts(ctx); err != nil {
		return report, fmt.Errorf("conflict healing: %w", err)
	}
	if report.AliasesResolved, err = s.healAliases(ctx); err != nil {
		return report, fmt.Errorf("alias healing: %w", err)
	}
	if report.CorruptHealed, err = s.healCorrupt(ctx); err != nil {
		return report, fmt.Errorf("corrupt healing: %w", err)
	}

	if report.Enqueued, err = s.enqueueCandidates(ctx); err != nil {
		return report, fmt.Errorf("enqueue candidates: %w", err)
	}

	report.AttemptsReset, err = s.contestProblems.ResetExhausted(ctx,
		s.cfg.MaxAttempts, s.now().Add(-s.cfg.StarvationAge))
	if err != nil {
		return report, fmt.Errorf("starvation reset: %w", err)
	}

	s.logger.Info("backfill run complete",
		slog.Int("conflicts_reset", report.ConflictsReset),
		slog.Int("aliases_resolved", report.AliasesResolved),
		slog.Int("corrupt_healed", report.CorruptHealed),
		slog.Int("enqueued", report.Enqueued),
		slog.Int("attempts_reset", report.AttemptsReset))
	return report, nil
}

// enqueueCandidates picks retryable contest problems and queues fetches
// for them. The repository orders candidates cheapest first: AtCoder,
// then low-rated Codeforces.
func (s *Service) enqueueCandidates(ctx context.Context) (int, error) {
	limit := s.cfg.PerRunLimit
	if limit <= 0 {
		limit = 50
	}

	candidates, err := s.contestProblems.ListBackfillCandidates(ctx,
		[]contest.ProblemRatingStatus{
			contest.ProblemMissing,
			contest.ProblemTempFail,
			contest.ProblemRateLimited,
			contest.ProblemQueued,
		},
		s.cfg.MaxAttempts,
		s.now().Add(-s.cfg.Cooldown),
		limit,
	)
	if err != nil {
		return 0, err
	}

	var ids []int64
	enqueued := 0
	for _, cp := range candidates {
		if cp.URL == "" {
			continue
		}
		if err := s.enqueue(ctx, cp.Platform, cp.URL, cp.Name, problem.PriorityLow); err != nil {
			return enqueued, err
		}
		ids = append(ids, cp.ID)
		enqueued++
	}
	if len(ids) > 0 {
		if err := s.contestProblems.MarkRequested(ctx, ids, s.now()); err != nil {
			return enqueued, err
		}
	}
	return enqueued, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALING PASSES
// ══════════════════════════════════════════════════════════════════════════════

// healConflicts finds aggregator problem ids attached to more than one
// cache entry. When the URLs belong to genuinely different problems, a
// past name-fallback mismatch put the wrong rating somewhere; neither
// entry can be trusted, so both are reset to retryable. Split-round
// siblings sharing an id are expected and skipped.
func (s *Service) healConflicts(ctx context.Context) (int, error) {
	const scanLimit = 100

	ids, err := s.cache.ListDuplicateExternalIDs(ctx, scanLimit)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, externalID := range ids {
		entries, err := s.cache.ListByExternalID(ctx, externalID)
		if err != nil {
			return reset, err
		}
		if len(entries) < 2 {
			continue
		}

		siblings, err := s.allVerifiedSiblings(ctx, entries)
		if err != nil {
			return reset, err
		}
		if siblings {
			continue
		}

		for _, entry := range entries {
			entry.AggregatorRating = nil
			entry.ExternalID = ""
			entry.Status = problem.StatusTempFail
			entry.RecomputeEffective()
			entry.UpdatedAt = s.now()
			if err := s.cache.Upsert(ctx, entry); err != nil {
				return reset, err
			}
			if _, err := s.contestProblems.SetRatingStatusByURL(ctx, entry.URL, contest.ProblemTempFail); err != nil {
				return reset, err
			}
			reset++
		}
		s.logger.Warn("conflicting cache entries reset",
			slog.String("external_id", externalID), slog.Int("entries", len(entries)))
	}
	return reset, nil
}

// allVerifiedSiblings reports whether every pair of cache entries under
// one aggregator id belongs to a legitimate split round: same statement
// name and sibling contests sharing a start time.
func (s *Service) allVerifiedSiblings(ctx context.Context, entries []*problem.CacheEntry) (bool, error) {
	type occurrence struct {
		name    string
		contest *contest.Contest
	}

	occurrences := make([]occurrence, 0, len(entries))
	for _, entry := range entries {
		rows, err := s.contestProblems.GetByURL(ctx, entry.URL)
		if err != nil {
			return false, err
		}
		if len(rows) == 0 {
			// No catalog record to verify against; treat as conflict.
			return false, nil
		}
		c, err := s.contests.Get(ctx, rows[0].Platform, rows[0].ContestID)
		if err != nil {
			if errors.Is(err, contest.ErrContestNotFound) {
				return false, nil
			}
			return false, err
		}
		occurrences = append(occurrences, occurrence{
			name:    contest.NormalizedName(rows[0].Name),
			contest: c,
		})
	}

	for i := 0; i < len(occurrences); i++ {
		for j := i + 1; j < len(occurrences); j++ {
			a, b := occurrences[i], occurrences[j]
			if a.name == "" || a.name != b.name {
				return false, nil
			}
			if a.contest.ContestID != b.contest.ContestID && !a.contest.SiblingOf(b.contest) {
				return false, nil
			}
		}
	}
	return true, nil
}

// healAliases resolves Codeforces problems stuck NOT_FOUND or MISSING by
// borrowing the rating of a resolved split-round sibling. The aggregator
// indexes only one of the two mirrored URLs; the sibling's answer is
// authoritative for both.
func (s *Service) healAliases(ctx context.Context) (int, error) {
	const scanLimit = 100

	stuck, err := s.contestProblems.ListBackfillCandidates(ctx,
		[]contest.ProblemRatingStatus{
			contest.ProblemNotFound,
			contest.ProblemMissing,
		},
		s.cfg.MaxAttempts,
		s.now(),
		scanLimit,
	)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, cp := range stuck {
		if cp.Platform != problem.PlatformCodeforces {
			continue
		}
		healed, err := s.resolveAliasRow(ctx, cp)
		if err != nil {
			s.logger.Warn("alias healing failed",
				slog.String("url", cp.URL), slog.String("error", err.Error()))
			continue
		}
		if healed {
			resolved++
		}
	}
	return resolved, nil
}

// resolveAlias runs alias resolution for a URL's contest problem rows.
func (s *Service) resolveAlias(ctx context.Context, url string) (bool, error) {
	rows, err := s.contestProblems.GetByURL(ctx, url)
	if err != nil {
		return false, err
	}
	for _, cp := range rows {
		healed, err := s.resolveAliasRow(ctx, cp)
		if err != nil || healed {
			return healed, err
		}
	}
	return false, nil
}

// resolveAliasRow looks for a resolved sibling-contest problem with the
// same statement name and copies its rating onto this row's URL.
func (s *Service) resolveAliasRow(ctx context.Context, cp *contest.ContestProblem) (bool, error) {
	own, err := s.contests.Get(ctx, cp.Platform, cp.ContestID)
	if err != nil {
		if errors.Is(err, contest.ErrContestNotFound) {
			return false, nil
		}
		return false, err
	}
	if own.StartTime.IsZero() {
		return false, nil
	}

	siblings, err := s.contests.FindSiblings(ctx, cp.Platform, own.StartTime, cp.ContestID)
	if err != nil {
		return false, err
	}
	var siblingIDs []string
	for _, sib := range siblings {
		if own.SiblingOf(sib) {
			siblingIDs = append(siblingIDs, sib.ContestID)
		}
	}
	if len(siblingIDs) == 0 {
		return false, nil
	}

	donors, err := s.contestProblems.FindAliasCandidates(ctx, cp.Platform, contest.NormalizedName(cp.Name), siblingIDs)
	if err != nil {
		return false, err
	}

	for _, donor := range donors {
		donorEntry, err := s.cache.Get(ctx, donor.URL)
		if err != nil {
			if errors.Is(err, problem.ErrNotCached) {
				continue
			}
			return false, err
		}
		if !donorEntry.Usable() {
			continue
		}

		entry, err := s.cache.Get(ctx, cp.URL)
		if err != nil {
			if !errors.Is(err, problem.ErrNotCached) {
				return false, err
			}
			entry = &problem.CacheEntry{URL: cp.URL, Platform: cp.Platform}
		}
		entry.AggregatorRating = donorEntry.AggregatorRating
		entry.ExternalID = donorEntry.ExternalID
		if entry.ProblemName == "" {
			entry.ProblemName = donorEntry.ProblemName
		}
		entry.Status = problem.StatusOK
		entry.Attempts = 0
		entry.LastError = ""
		entry.NextRetryAt = nil
		entry.FetchedAt = s.now()
		entry.RecomputeEffective()
		entry.UpdatedAt = s.now()
		if err := s.cache.Upsert(ctx, entry); err != nil {
			return false, err
		}

		s.logger.Info("rating borrowed from split-round sibling",
			slog.String("url", cp.URL), slog.String("donor_url", donor.URL))
		return true, s.markResolved(ctx, entry)
	}
	return false, nil
}

// healCorrupt downgrades OK-with-null cache entries back to retryable
// and demotes contest problems whose claimed OK status has no usable
// backing entry.
func (s *Service) healCorrupt(ctx context.Context) (int, error) {
	const scanLimit = 200

	corrupt, err := s.cache.ListCorrupt(ctx, scanLimit)
	if err != nil {
		return 0, err
	}

	healed := 0
	for _, entry := range corrupt {
		entry.Status = problem.StatusTempFail
		retryAt := s.now()
		entry.NextRetryAt = &retryAt
		entry.UpdatedAt = s.now()
		if err := s.cache.Upsert(ctx, entry); err != nil {
			return healed, err
		}
		if _, err := s.contestProblems.SetRatingStatusByURL(ctx, entry.URL, contest.ProblemTempFail); err != nil {
			return healed, err
		}
		healed++
	}

	okRows, err := s.contestProblems.ListBackfillCandidates(ctx,
		[]contest.ProblemRatingStatus{contest.ProblemOK},
		s.cfg.MaxAttempts, s.now(), scanLimit)
	if err != nil {
		return healed, err
	}
	for _, cp := range okRows {
		entry, err := s.cache.Get(ctx, cp.URL)
		if err != nil && !errors.Is(err, problem.ErrNotCached) {
			return healed, err
		}
		if entry != nil && entry.Usable() {
			continue
		}
		if _, err := s.contestProblems.SetRatingStatusByURL(ctx, cp.URL, contest.ProblemTempFail); err != nil {
			return healed, err
		}
		healed++
	}
	return healed, nil
}
