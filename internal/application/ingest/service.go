// Package ingest pulls external data into the tracker: per-student
// submission sync with cursors, live judge rating refresh, contest
// catalog discovery and per-contest problem-list sync.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/student"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Gateway is one judge's data source, already mapped to domain types.
type Gateway interface {
	Submissions(ctx context.Context, studentID, handle string, sinceUnix int64) ([]*submission.Submission, error)
	Rating(ctx context.Context, handle string) (rating, maxRating *int, err error)
	Contests(ctx context.Context) ([]*contest.Contest, error)
	ContestProblems(ctx context.Context, c *contest.Contest) ([]*contest.ContestProblem, error)
}

// Processor turns freshly inserted submissions into score events.
type Processor interface {
	Process(ctx context.Context, subs []*submission.Submission) (created int, err error)
}

// NativeSeeder records judge-reported ratings in the rating cache.
type NativeSeeder interface {
	SeedNative(ctx context.Context, platform problem.Platform, url string, nativeRating int) error
}

// CacheReader answers batch rating lookups for summary computation.
type CacheReader interface {
	GetBatch(ctx context.Context, urls []string) (map[string]*problem.CacheEntry, error)
}

// Config bounds the ingest pipeline.
type Config struct {
	RatingRefreshMinInterval time.Duration
	ProblemSyncStaleAfter    time.Duration
	RecentCatalogHorizon     time.Duration
	HistoryPageSize          int
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service is the ingest pipeline.
type Service struct {
	students        student.Repository
	submissions     submission.Repository
	contests        contest.Repository
	contestProblems contest.ProblemRepository
	gateways        map[problem.Platform]Gateway
	processor       Processor
	seeder          NativeSeeder
	cache           CacheReader
	cursors         CursorStore
	cfg             Config
	logger          *slog.Logger
	now             func() time.Time
}

// NewService creates a Service.
func NewService(
	students student.Repository,
	submissions submission.Repository,
	contests contest.Repository,
	contestProblems contest.ProblemRepository,
	gateways map[problem.Platform]Gateway,
	processor Processor,
	seeder NativeSeeder,
	cache CacheReader,
	cursors CursorStore,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.RatingRefreshMinInterval <= 0 {
		cfg.RatingRefreshMinInterval = 12 * time.Hour
	}
	if cfg.ProblemSyncStaleAfter <= 0 {
		cfg.ProblemSyncStaleAfter = 7 * 24 * time.Hour
	}
	if cfg.RecentCatalogHorizon <= 0 {
		cfg.RecentCatalogHorizon = 2 * 365 * 24 * time.Hour
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		students:        students,
		submissions:     submissions,
		contests:        contests,
		contestProblems: contestProblems,
		gateways:        gateways,
		processor:       processor,
		seeder:          seeder,
		cache:           cache,
		cursors:         cursors,
		cfg:             cfg,
		logger:          logger,
		now:             time.Now,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Student sync
// ─────────────────────────────────────────────────────────────────────────────

// SyncReport summarizes one student sync.
type SyncReport struct {
	SubmissionsFetched  int
	SubmissionsInserted int
	EventsCreated       int
	RatingsRefreshed    int
}

// SyncStudent pulls new submissions for each of a student's linked
// accounts, scores them, advances the sync cursors and refreshes live
// ratings when the refresh interval has elapsed. Cursor advancement is
// per account; a failure on one platform does not block the other.
func (s *Service) SyncStudent(ctx context.Context, st *student.Student) (SyncReport, error) {
	var report SyncReport
	var firstErr error

	for _, acc := range s.accounts(st) {
		if err := s.syncAccount(ctx, st, acc, &report); err != nil {
			s.logger.Warn("account sync failed",
				slog.String("student_id", st.ID),
				slog.String("platform", string(acc.platform)),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return report, firstErr
}

type linkedAccount struct {
	platform problem.Platform
	account  *student.JudgeAccount
}

func (s *Service) accounts(st *student.Student) []linkedAccount {
	var accs []linkedAccount
	if st.Codeforces != nil {
		accs = append(accs, linkedAccount{problem.PlatformCodeforces, st.Codeforces})
	}
	if st.AtCoder != nil {
		accs = append(accs, linkedAccount{problem.PlatformAtCoder, st.AtCoder})
	}
	return accs
}

func (s *Service) syncAccount(ctx context.Context, st *student.Student, acc linkedAccount, report *SyncReport) error {
	gateway, ok := s.gateways[acc.platform]
	if !ok {
		return fmt.Errorf("no gateway for %s", acc.platform)
	}

	subs, err := gateway.Submissions(ctx, st.ID, acc.account.Handle.String(), acc.account.LastSyncedUnix)
	if err != nil {
		return fmt.Errorf("fetch submissions: %w", err)
	}
	report.SubmissionsFetched += len(subs)

	if len(subs) > 0 {
		inserted, err := s.submissions.UpsertBatch(ctx, subs)
		if err != nil {
			return fmt.Errorf("store submissions: %w", err)
		}
		report.SubmissionsInserted += len(inserted)

		created, err := s.processor.Process(ctx, inserted)
		if err != nil {
			return fmt.Errorf("score submissions: %w", err)
		}
		report.EventsCreated += created

		cursor := acc.account.LastSyncedUnix
		for _, sub := range subs {
			if unix := sub.SubmittedAt.Unix(); unix > cursor {
				cursor = unix
			}
		}
		if cursor != acc.account.LastSyncedUnix {
			if err := s.students.UpdateSyncCursor(ctx, st.ID, acc.platform, cursor); err != nil {
				return fmt.Errorf("advance cursor: %w", err)
			}
		}
	}

	if acc.account.NeedsRatingRefresh(s.now(), s.cfg.RatingRefreshMinInterval) {
		rating, maxRating, err := gateway.Rating(ctx, acc.account.Handle.String())
		if err != nil {
			return fmt.Errorf("refresh rating: %w", err)
		}
		if err := s.students.UpdateJudgeRating(ctx, st.ID, acc.platform, rating, maxRating, s.now()); err != nil {
			return fmt.Errorf("store rating: %w", err)
		}
		report.RatingsRefreshed++
	}
	return nil
}

// SyncAllStudents runs SyncStudent over every active student with a
// linked account. Per-student failures are logged and skipped so one
// broken handle cannot stall the whole run.
func (s *Service) SyncAllStudents(ctx context.Context) (SyncReport, error) {
	const pageSize = 100

	var total SyncReport
	for offset := 0; ; offset += pageSize {
		page, err := s.students.ListActive(ctx, student.ListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return total, fmt.Errorf("list students: %w", err)
		}
		for _, st := range page {
			if !st.HasAnyAccount() {
				continue
			}
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			report, err := s.SyncStudent(ctx, st)
			total.SubmissionsFetched += report.SubmissionsFetched
			total.SubmissionsInserted += report.SubmissionsInserted
			total.EventsCreated += report.EventsCreated
			total.RatingsRefreshed += report.RatingsRefreshed
			if err != nil {
				continue
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return total, nil
}
