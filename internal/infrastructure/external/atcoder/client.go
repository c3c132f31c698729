// Package atcoder implements the AtCoder data client. Submission
// history, the contest catalog, and problem difficulty models come from
// the kenkoooo AtCoder Problems API; user rating comes from the
// official site's public history feed.
package atcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maratonahub/cp-tracker/pkg/circuitbreaker"
	"github.com/maratonahub/cp-tracker/pkg/ratelimit"
	"github.com/maratonahub/cp-tracker/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the AtCoder client.
type ClientConfig struct {
	// BaseURL is the kenkoooo API base URL (".../atcoder").
	BaseURL string

	// SiteURL is the official site base URL, for the rating history feed.
	SiteURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimit controls the outbound request rate. kenkoooo asks
	// clients for at most one request per second.
	RateLimit ratelimit.Config

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		SiteURL: "https://atcoder.jp",
		Timeout: 30 * time.Second,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: 1.0,
			BurstSize:         2,
			MinInterval:       time.Second,
			WaitTimeout:       60 * time.Second,
			RetryAfter:        60 * time.Second,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the AtCoder data client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
}

// NewClient creates a new AtCoder client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.SiteURL == "" {
		config.SiteURL = "https://atcoder.jp"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  config.Logger,
		limiter: ratelimit.New(config.RateLimit),
		breaker: circuitbreaker.JudgeBreaker("atcoder-api", nil),
		retrier: retry.JudgeRetrier(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// UserSubmissions fetches a user's submissions from fromSecond onward,
// paging forward until the feed is exhausted. The feed returns at most
// 500 entries per call, ordered oldest first.
func (c *Client) UserSubmissions(ctx context.Context, user string, fromSecond int64) ([]SubmissionDTO, error) {
	const pageLimit = 500

	var all []SubmissionDTO
	cursor := fromSecond
	for {
		params := url.Values{}
		params.Set("user", user)
		params.Set("from_second", strconv.FormatInt(cursor, 10))

		var page []SubmissionDTO
		if err := c.getJSON(ctx, c.config.BaseURL+"/atcoder-api/v3/user/submissions?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("user %s submissions: %w", user, err)
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		if len(page) < pageLimit {
			break
		}
		// Next page starts strictly after the last entry.
		cursor = page[len(page)-1].EpochSecond + 1
	}

	return all, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListContests fetches the full contest catalog.
func (c *Client) ListContests(ctx context.Context) ([]ContestDTO, error) {
	var contests []ContestDTO
	if err := c.getJSON(ctx, c.config.BaseURL+"/resources/contests.json", &contests); err != nil {
		return nil, fmt.Errorf("list contests: %w", err)
	}
	return contests, nil
}

// ListProblems fetches the full problem catalog.
func (c *Client) ListProblems(ctx context.Context) ([]ProblemDTO, error) {
	var problems []ProblemDTO
	if err := c.getJSON(ctx, c.config.BaseURL+"/resources/problems.json", &problems); err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	return problems, nil
}

// ProblemModels fetches the difficulty models, keyed by problem id.
func (c *Client) ProblemModels(ctx context.Context) (map[string]ProblemModelDTO, error) {
	models := make(map[string]ProblemModelDTO)
	if err := c.getJSON(ctx, c.config.BaseURL+"/resources/problem-models.json", &models); err != nil {
		return nil, fmt.Errorf("problem models: %w", err)
	}
	return models, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER RATING
// ══════════════════════════════════════════════════════════════════════════════

// UserRating fetches a user's current and max rating from the official
// rating history. Returns (nil, nil, nil) for users with no rated
// contests.
func (c *Client) UserRating(ctx context.Context, user string) (rating, maxRating *int, err error) {
	var history []RatingHistoryEntryDTO
	endpoint := fmt.Sprintf("%s/users/%s/history/json", c.config.SiteURL, url.PathEscape(user))
	if err := c.getJSON(ctx, endpoint, &history); err != nil {
		return nil, nil, fmt.Errorf("user %s rating history: %w", user, err)
	}

	var current, max *int
	for i := range history {
		if !history[i].IsRated {
			continue
		}
		r := history[i].NewRating
		current = &r
		if max == nil || r > *max {
			v := r
			max = &v
		}
	}
	return current, max, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// getJSON runs one GET through the rate limiter, circuit breaker and
// retrier.
func (c *Client) getJSON(ctx context.Context, fullURL string, result interface{}) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, fullURL, result)
		})
	})
}

func (c *Client) doSingleRequest(ctx context.Context, fullURL string, result interface{}) error {
	if err := c.limiter.Allow(ctx); err != nil {
		return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		c.limiter.RecordHit(retryAfter)
		return retry.Retryable(fmt.Errorf("atcoder: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return retry.Retryable(fmt.Errorf("atcoder: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Permanent(fmt.Errorf("atcoder: status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

// IsHealthy checks if the kenkoooo API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var contests []ContestDTO
	return c.doSingleRequest(ctx, c.config.BaseURL+"/resources/contests.json", &contests) == nil
}
