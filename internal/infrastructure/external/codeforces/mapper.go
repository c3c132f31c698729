package codeforces

import (
	"strconv"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// DTO -> DOMAIN MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// Mapper converts Codeforces API DTOs into domain entities.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ContestFromDTO maps a catalog entry.
func (m *Mapper) ContestFromDTO(dto ContestDTO) *contest.Contest {
	id := strconv.FormatInt(dto.ID, 10)

	c := &contest.Contest{
		Platform:      problem.PlatformCodeforces,
		ContestID:     id,
		Name:          dto.Name,
		Kind:          contest.Classify(problem.PlatformCodeforces, id, dto.Name),
		Duration:      time.Duration(dto.DurationSeconds) * time.Second,
		SyncState:     contest.SyncPending,
		RatingSummary: contest.SummaryNone,
	}
	if dto.StartTimeSeconds != nil {
		c.StartTime = time.Unix(*dto.StartTimeSeconds, 0).UTC()
	}
	return c
}

// ContestProblemFromDTO maps a standings problem slot. Returns nil when
// the problem carries no contest reference.
func (m *Mapper) ContestProblemFromDTO(dto ProblemDTO) *contest.ContestProblem {
	if dto.ContestID == nil {
		return nil
	}
	contestID := strconv.FormatInt(*dto.ContestID, 10)

	return &contest.ContestProblem{
		Platform:     problem.PlatformCodeforces,
		ContestID:    contestID,
		IndexLabel:   dto.Index,
		Name:         dto.Name,
		URL:          problem.BuildURLFromFields(problem.PlatformCodeforces, contestID, dto.Index, ""),
		NativeRating: dto.Rating,
		RatingStatus: contest.ProblemMissing,
	}
}

// SubmissionFromDTO maps one user.status entry for a student. Returns
// nil for submissions without a contest reference (gym mirrors,
// acmsguru), which the tracker does not score.
func (m *Mapper) SubmissionFromDTO(studentID string, dto SubmissionDTO) *submission.Submission {
	if dto.ContestID == nil {
		return nil
	}
	contestID := strconv.FormatInt(*dto.ContestID, 10)

	verdict := submission.VerdictRejected
	if dto.Verdict == "OK" {
		verdict = submission.VerdictAccepted
	}

	return &submission.Submission{
		StudentID:    studentID,
		Platform:     problem.PlatformCodeforces,
		ExternalID:   strconv.FormatInt(dto.ID, 10),
		ContestID:    contestID,
		ProblemIndex: dto.Problem.Index,
		ProblemName:  dto.Problem.Name,
		ProblemURL:   problem.BuildURLFromFields(problem.PlatformCodeforces, contestID, dto.Problem.Index, ""),
		Verdict:      verdict,
		SubmittedAt:  time.Unix(dto.CreationTimeSeconds, 0).UTC(),
	}
}

// SubmissionsFromDTOs maps a page of submissions, dropping unmappable
// entries.
func (m *Mapper) SubmissionsFromDTOs(studentID string, dtos []SubmissionDTO) []*submission.Submission {
	subs := make([]*submission.Submission, 0, len(dtos))
	for _, dto := range dtos {
		if s := m.SubmissionFromDTO(studentID, dto); s != nil {
			subs = append(subs, s)
		}
	}
	return subs
}
