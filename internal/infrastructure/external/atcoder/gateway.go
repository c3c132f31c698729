package atcoder

import (
	"context"
	"sync"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// catalogTTL bounds how long the problem catalog and difficulty models
// are reused between fetches. They are bulk resources; per-contest
// endpoints do not exist on this API.
const catalogTTL = time.Hour

// Gateway adapts the AtCoder client to the domain types the ingest
// service consumes. The bulk problem catalog is fetched once and sliced
// per contest.
type Gateway struct {
	client *Client
	mapper *Mapper

	mu        sync.Mutex
	problems  map[string][]ProblemDTO // contest id -> problems
	models    map[string]ProblemModelDTO
	fetchedAt time.Time
}

// NewGateway creates a Gateway.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client, mapper: NewMapper()}
}

// Submissions fetches and maps a user's submissions from sinceUnix
// onward.
func (g *Gateway) Submissions(ctx context.Context, studentID, handle string, sinceUnix int64) ([]*submission.Submission, error) {
	from := sinceUnix
	if from > 0 {
		from++
	}
	dtos, err := g.client.UserSubmissions(ctx, handle, from)
	if err != nil {
		return nil, err
	}
	return g.mapper.SubmissionsFromDTOs(studentID, dtos), nil
}

// Rating fetches a user's current and max rating from the official
// history feed.
func (g *Gateway) Rating(ctx context.Context, handle string) (rating, maxRating *int, err error) {
	return g.client.UserRating(ctx, handle)
}

// Contests fetches and maps the contest catalog.
func (g *Gateway) Contests(ctx context.Context) ([]*contest.Contest, error) {
	dtos, err := g.client.ListContests(ctx)
	if err != nil {
		return nil, err
	}
	contests := make([]*contest.Contest, 0, len(dtos))
	for _, dto := range dtos {
		contests = append(contests, g.mapper.ContestFromDTO(dto))
	}
	return contests, nil
}

// ContestProblems returns one contest's problems from the bulk catalog,
// with difficulty model estimates attached.
func (g *Gateway) ContestProblems(ctx context.Context, c *contest.Contest) ([]*contest.ContestProblem, error) {
	if err := g.ensureCatalog(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	dtos := g.problems[c.ContestID]
	models := g.models
	g.mu.Unlock()

	problems := make([]*contest.ContestProblem, 0, len(dtos))
	for _, dto := range dtos {
		var model *ProblemModelDTO
		if m, ok := models[dto.ID]; ok {
			model = &m
		}
		problems = append(problems, g.mapper.ContestProblemFromDTO(dto, model))
	}
	return problems, nil
}

func (g *Gateway) ensureCatalog(ctx context.Context) error {
	g.mu.Lock()
	fresh := g.problems != nil && time.Since(g.fetchedAt) < catalogTTL
	g.mu.Unlock()
	if fresh {
		return nil
	}

	dtos, err := g.client.ListProblems(ctx)
	if err != nil {
		return err
	}
	models, err := g.client.ProblemModels(ctx)
	if err != nil {
		return err
	}

	byContest := make(map[string][]ProblemDTO)
	for _, dto := range dtos {
		byContest[dto.ContestID] = append(byContest[dto.ContestID], dto)
	}

	g.mu.Lock()
	g.problems = byContest
	g.models = models
	g.fetchedAt = time.Now()
	g.mu.Unlock()
	return nil
}
