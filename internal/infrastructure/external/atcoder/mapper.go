package atcoder

import (
	"strconv"
	"strings"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// DTO -> DOMAIN MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// Mapper converts AtCoder DTOs into domain entities.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ContestFromDTO maps a catalog entry.
func (m *Mapper) ContestFromDTO(dto ContestDTO) *contest.Contest {
	return &contest.Contest{
		Platform:      problem.PlatformAtCoder,
		ContestID:     dto.ID,
		Name:          dto.Title,
		Kind:          contest.Classify(problem.PlatformAtCoder, dto.ID, dto.Title),
		StartTime:     time.Unix(dto.StartEpochSecond, 0).UTC(),
		Duration:      time.Duration(dto.DurationSecond) * time.Second,
		SyncState:     contest.SyncPending,
		RatingSummary: contest.SummaryNone,
	}
}

// ContestProblemFromDTO maps a problem catalog entry. The difficulty
// model, when present, supplies the native rating estimate.
func (m *Mapper) ContestProblemFromDTO(dto ProblemDTO, model *ProblemModelDTO) *contest.ContestProblem {
	cp := &contest.ContestProblem{
		Platform:     problem.PlatformAtCoder,
		ContestID:    dto.ContestID,
		IndexLabel:   dto.ProblemIndex,
		Name:         dto.Name,
		URL:          problem.BuildURLFromFields(problem.PlatformAtCoder, dto.ContestID, dto.ProblemIndex, dto.ID),
		RatingStatus: contest.ProblemMissing,
	}
	if model != nil && model.Difficulty != nil {
		d := *model.Difficulty
		cp.NativeRating = &d
	}
	return cp
}

// SubmissionFromDTO maps one submission feed entry for a student.
// Returns nil when the entry carries no contest reference.
func (m *Mapper) SubmissionFromDTO(studentID string, dto SubmissionDTO) *submission.Submission {
	if dto.ContestID == "" || dto.ProblemID == "" {
		return nil
	}

	verdict := submission.VerdictRejected
	if dto.Result == "AC" {
		verdict = submission.VerdictAccepted
	}

	index := indexFromProblemID(dto.ProblemID)

	return &submission.Submission{
		StudentID:    studentID,
		Platform:     problem.PlatformAtCoder,
		ExternalID:   strconv.FormatInt(dto.ID, 10),
		ContestID:    dto.ContestID,
		ProblemIndex: index,
		ProblemName:  dto.ProblemID,
		ProblemURL:   problem.BuildURLFromFields(problem.PlatformAtCoder, dto.ContestID, index, dto.ProblemID),
		Verdict:      verdict,
		SubmittedAt:  time.Unix(dto.EpochSecond, 0).UTC(),
	}
}

// SubmissionsFromDTOs maps a feed page, dropping unmappable entries.
func (m *Mapper) SubmissionsFromDTOs(studentID string, dtos []SubmissionDTO) []*submission.Submission {
	subs := make([]*submission.Submission, 0, len(dtos))
	for _, dto := range dtos {
		if s := m.SubmissionFromDTO(studentID, dto); s != nil {
			subs = append(subs, s)
		}
	}
	return subs
}

// indexFromProblemID derives the display index from a kenkoooo problem
// id: "abc042_b" yields "B". The submission feed carries no index of its
// own.
func indexFromProblemID(problemID string) string {
	if i := strings.LastIndex(problemID, "_"); i >= 0 && i+1 < len(problemID) {
		return strings.ToUpper(problemID[i+1:])
	}
	return strings.ToUpper(problemID)
}
