package codeforces

import (
	"context"
	"fmt"
	"strconv"

	"github.com/maratonahub/cp-tracker/internal/domain/contest"
	"github.com/maratonahub/cp-tracker/internal/domain/submission"
)

// Gateway adapts the Codeforces client to the domain types the ingest
// service consumes.
type Gateway struct {
	client *Client
	mapper *Mapper
}

// NewGateway creates a Gateway.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client, mapper: NewMapper()}
}

// Submissions fetches and maps a handle's submissions newer than
// sinceUnix.
func (g *Gateway) Submissions(ctx context.Context, studentID, handle string, sinceUnix int64) ([]*submission.Submission, error) {
	dtos, err := g.client.UserSubmissions(ctx, handle, sinceUnix)
	if err != nil {
		return nil, err
	}
	return g.mapper.SubmissionsFromDTOs(studentID, dtos), nil
}

// Rating fetches a handle's current and max rating. Unrated handles
// report nils.
func (g *Gateway) Rating(ctx context.Context, handle string) (rating, maxRating *int, err error) {
	users, err := g.client.UserInfo(ctx, []string{handle})
	if err != nil {
		return nil, nil, err
	}
	if len(users) == 0 {
		return nil, nil, nil
	}
	return users[0].Rating, users[0].MaxRating, nil
}

// Contests fetches and maps the finished contest catalog.
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

// ContestProblems fetches and maps one contest's problem list.
func (g *Gateway) ContestProblems(ctx context.Context, c *contest.Contest) ([]*contest.ContestProblem, error) {
	id, err := strconv.ParseInt(c.ContestID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("contest id %q: %w", c.ContestID, err)
	}
	dtos, err := g.client.ContestProblems(ctx, id)
	if err != nil {
		return nil, err
	}
	problems := make([]*contest.ContestProblem, 0, len(dtos))
	for _, dto := range dtos {
		if cp := g.mapper.ContestProblemFromDTO(dto); cp != nil {
			problems = append(problems, cp)
		}
	}
	return problems, nil
}
