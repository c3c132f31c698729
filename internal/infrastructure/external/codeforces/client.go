// Package codeforces implements the Codeforces API client. It covers
// the three read paths the tracker needs: the contest catalog, per-user
// submission history, and current user ratings.
package codeforces

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maratonahub/cp-tracker/pkg/circuitbreaker"
	"github.com/maratonahub/cp-tracker/pkg/ratelimit"
	"github.com/maratonahub/cp-tracker/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Codeforces client.
type ClientConfig struct {
	// BaseURL is the API base URL (".../api").
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// PageSize is the user.status page size.
	PageSize int

	// RateLimit controls the outbound request rate.
	RateLimit ratelimit.Config

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		Timeout:   30 * time.Second,
		PageSize:  200,
		RateLimit: ratelimit.DefaultConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Codeforces API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
}

// NewClient creates a new Codeforces client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 200
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  config.Logger,
		limiter: ratelimit.New(config.RateLimit),
		breaker: circuitbreaker.JudgeBreaker("codeforces-api", nil),
		retrier: retry.JudgeRetrier(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEST OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ListContests fetches the full contest catalog, finished contests only.
func (c *Client) ListContests(ctx context.Context) ([]ContestDTO, error) {
	params := url.Values{}
	params.Set("gym", "false")

	var contests []ContestDTO
	if err := c.call(ctx, "contest.list", params, &contests); err != nil {
		return nil, fmt.Errorf("list contests: %w", err)
	}

	finished := contests[:0]
	for _, dto := range contests {
		if dto.Phase == "FINISHED" {
			finished = append(finished, dto)
		}
	}
	return finished, nil
}

// ContestProblems fetches a contest's problem list via the standings
// endpoint, requesting a single row to keep the payload small.
func (c *Client) ContestProblems(ctx context.Context, contestID int64) ([]ProblemDTO, error) {
	params := url.Values{}
	params.Set("contestId", strconv.FormatInt(contestID, 10))
	params.Set("from", "1")
	params.Set("count", "1")

	var standings standingsResult
	if err := c.call(ctx, "contest.standings", params, &standings); err != nil {
		return nil, fmt.Errorf("contest %d problems: %w", contestID, err)
	}
	return standings.Problems, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// UserSubmissions fetches a handle's submissions newer than sinceUnix,
// paging backwards through user.status until the cursor is reached.
// Results are newest first, as the API returns them.
func (c *Client) UserSubmissions(ctx context.Context, handle string, sinceUnix int64) ([]SubmissionDTO, error) {
	var all []SubmissionDTO

	from := 1
	for {
		params := url.Values{}
		params.Set("handle", handle)
		params.Set("from", strconv.Itoa(from))
		params.Set("count", strconv.Itoa(c.config.PageSize))

		var page []SubmissionDTO
		if err := c.call(ctx, "user.status", params, &page); err != nil {
			return nil, fmt.Errorf("user %s submissions: %w", handle, err)
		}
		if len(page) == 0 {
			break
		}

		done := false
		for _, dto := range page {
			if dto.CreationTimeSeconds <= sinceUnix {
				done = true
				break
			}
			all = append(all, dto)
		}
		if done || len(page) < c.config.PageSize {
			break
		}
		from += len(page)
	}

	return all, nil
}

// UserInfo fetches current and max ratings for a batch of handles.
func (c *Client) UserInfo(ctx context.Context, handles []string) ([]UserDTO, error) {
	if len(handles) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("handles", strings.Join(handles, ";"))

	var users []UserDTO
	if err := c.call(ctx, "user.info", params, &users); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	return users, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// call runs one API method through the rate limiter, circuit breaker
// and retrier, unwrapping the status envelope.
func (c *Client) call(ctx context.Context, method string, params url.Values, result interface{}) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, method, params, result)
		})
	})
}

func (c *Client) doSingleRequest(ctx context.Context, method string, params url.Values, result interface{}) error {
	if err := c.limiter.Allow(ctx); err != nil {
		return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	fullURL := c.config.BaseURL + "/" + method
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
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

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		c.limiter.RecordHit(0)
		return retry.Retryable(fmt.Errorf("codeforces: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return retry.Retryable(fmt.Errorf("codeforces: status %d", resp.StatusCode))
	}

	var envelope apiResponse[json.RawMessage]
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal envelope: %w", err))
	}
	if envelope.Status != "OK" {
		// "Call limit exceeded" comes back as FAILED with HTTP 200.
		if strings.Contains(envelope.Comment, "limit") {
			c.limiter.RecordHit(0)
			return retry.Retryable(fmt.Errorf("codeforces: %s", envelope.Comment))
		}
		return retry.Permanent(fmt.Errorf("codeforces: %s", envelope.Comment))
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal result: %w", err))
		}
	}
	return nil
}

// IsHealthy checks if the Codeforces API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	params := url.Values{}
	params.Set("gym", "false")

	var contests []ContestDTO
	return c.doSingleRequest(ctx, "contest.list", params, &contests) == nil
}
