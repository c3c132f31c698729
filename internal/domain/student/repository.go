package student

import (
	"context"
	"errors"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
)

var (
	// ErrNotFound indicates no student matches the key.
	ErrNotFound = errors.New("student: not found")

	// ErrAlreadyExists indicates a username collision on create.
	ErrAlreadyExists = errors.New("student: already exists")
)

// ListOptions pages bulk reads.
type ListOptions struct {
	Limit  int
	Offset int
}

// Repository persists tracked students.
type Repository interface {
	// Create inserts a student. Returns ErrAlreadyExists on username
	// collision.
	Create(ctx context.Context, s *Student) error

	// GetByID returns a student by uuid. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*Student, error)

	// GetByUsername returns a student by username.
	GetByUsername(ctx context.Context, username Username) (*Student, error)

	// GetByHandle returns the student owning a judge handle.
	GetByHandle(ctx context.Context, platform problem.Platform, handle Handle) (*Student, error)

	// Update rewrites a student row.
	Update(ctx context.Context, s *Student) error

	// ListActive returns active students, username order, paged.
	ListActive(ctx context.Context, opts ListOptions) ([]*Student, error)

	// ListWithAccount returns active students that link an account on
	// the platform.
	ListWithAccount(ctx context.Context, platform problem.Platform) ([]*Student, error)

	// UpdateSyncCursor advances the submission sync cursor for one
	// judge account.
	UpdateSyncCursor(ctx context.Context, id string, platform problem.Platform, lastSyncedUnix int64) error

	// UpdateJudgeRating stores a refreshed live rating.
	UpdateJudgeRating(ctx context.Context, id string, platform problem.Platform, rating, maxRating *int, refreshedAt time.Time) error

	// Count returns the number of active students.
	Count(ctx context.Context) (int, error)
}
