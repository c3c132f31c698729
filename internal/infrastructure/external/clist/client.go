// Package clist implements the rating aggregator API client. It answers
// one question: what difficulty does the aggregator assign to a problem
// URL. Lookup is exact-URL first, with Codeforces mirror variants tried
// before giving up, and a name-based fallback that is allowed for
// AtCoder only.
package clist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maratonahub/cp-tracker/internal/domain/problem"
	"github.com/maratonahub/cp-tracker/pkg/circuitbreaker"
	"github.com/maratonahub/cp-tracker/pkg/ratelimit"
	"github.com/maratonahub/cp-tracker/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the aggregator client.
type ClientConfig struct {
	// BaseURL is the aggregator API base URL (".../api/v4").
	BaseURL string

	// Username and APIKey authenticate requests ("ApiKey user:key").
	Username string
	APIKey   string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

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
		RateLimit: ratelimit.ConservativeConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// resourceAtCoder scopes name searches to the one platform where names
// are effectively unique.
const resourceAtCoder = "atcoder.jp"

// errRateLimited marks a 429 from the aggregator; mapped to the
// RATE_LIMITED status, never retried inline.
var errRateLimited = errors.New("clist: rate limited")

// Client is the rating aggregator API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
}

// NewClient creates a new aggregator client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  config.Logger,
		limiter: ratelimit.New(config.RateLimit),
		breaker: circuitbreaker.AggregatorBreaker(nil),
		retrier: retry.AggregatorRetrier(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RATING LOOKUP
// ══════════════════════════════════════════════════════════════════════════════

// FetchRating resolves a problem's aggregator difficulty. The result's
// status is the cache transition to apply; a non-nil error is returned
// only for context cancellation.
//
// Lookup order: exact URL, then (Codeforces only) mirror URL variants,
// then (AtCoder only) a name search. Codeforces never falls back to
// name search: round titles repeat across split Div.1/Div.2 rounds and
// a name match could attach the wrong rating to the wrong problem.
func (c *Client) FetchRating(ctx context.Context, platform problem.Platform, problemURL, nameHint string) (*problem.FetchResult, error) {
	match, err := c.lookupByURL(ctx, problemURL)
	if err != nil {
		return c.failure(err), ctx.Err()
	}
	if res := resultFromMatch(match, ""); res != nil {
		return res, nil
	}

	if platform == problem.PlatformCodeforces {
		for _, variant := range problem.MirrorURLVariants(problemURL) {
			match, err = c.lookupByURL(ctx, variant)
			if err != nil {
				return c.failure(err), ctx.Err()
			}
			if res := resultFromMatch(match, variant); res != nil {
				return res, nil
			}
		}
	}

	if platform == problem.PlatformAtCoder && nameHint != "" {
		match, err = c.lookupByName(ctx, nameHint)
		if err != nil {
			return c.failure(err), ctx.Err()
		}
		if res := resultFromMatch(match, ""); res != nil {
			if match.URL != "" {
				res.ResolvedURL = problem.NormalizeURL(match.URL)
			}
			return res, nil
		}
	}

	return &problem.FetchResult{Status: problem.StatusNotFound}, nil
}

// resultFromMatch maps a matched problem to an OK result, or nil when
// the match is absent or unusable. A match carrying a null rating is
// not usable output and falls through to the next lookup.
func resultFromMatch(match *ProblemDTO, resolvedURL string) *problem.FetchResult {
	if match == nil || match.Rating == nil {
		return nil
	}
	return &problem.FetchResult{
		Status:      problem.StatusOK,
		Rating:      match.Rating,
		ExternalID:  strconv.FormatInt(match.ID, 10),
		ProblemName: match.Name,
		ResolvedURL: resolvedURL,
	}
}

// failure maps a lookup error onto the retryable statuses.
func (c *Client) failure(err error) *problem.FetchResult {
	if errors.Is(err, errRateLimited) {
		return &problem.FetchResult{Status: problem.StatusRateLimited, Err: err.Error()}
	}
	return &problem.FetchResult{Status: problem.StatusTempFail, Err: err.Error()}
}

// lookupByURL queries the aggregator for one exact URL spelling.
func (c *Client) lookupByURL(ctx context.Context, problemURL string) (*ProblemDTO, error) {
	params := url.Values{}
	params.Set("url", problemURL)
	return c.queryProblem(ctx, params)
}

// lookupByName queries the aggregator by problem statement name,
// restricted to the AtCoder resource.
func (c *Client) lookupByName(ctx context.Context, name string) (*ProblemDTO, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("resource", resourceAtCoder)
	return c.queryProblem(ctx, params)
}

// queryProblem runs one /problem query and returns the first match, or
// nil when the response is well-formed with zero objects.
func (c *Client) queryProblem(ctx context.Context, params url.Values) (*ProblemDTO, error) {
	params.Set("limit", "3")
	params.Set("format", "json")

	var response problemListResponse
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, "/problem/?"+params.Encode(), &response)
		})
	})
	if err != nil {
		return nil, err
	}

	if len(response.Objects) == 0 {
		return nil, nil
	}
	return &response.Objects[0], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, path string, result interface{}) error {
	if err := c.limiter.Allow(ctx); err != nil {
		return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if c.config.Username != "" && c.config.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.config.Username+":"+c.config.APIKey)
	}

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
		return retry.Permanent(errRateLimited)
	}

	if resp.StatusCode >= 500 {
		return retry.Retryable(fmt.Errorf("clist: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Permanent(fmt.Errorf("clist: status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}

	return nil
}

// IsHealthy checks if the aggregator API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	params := url.Values{}
	params.Set("limit", "1")
	params.Set("format", "json")

	var response problemListResponse
	return c.doSingleRequest(ctx, "/problem/?"+params.Encode(), &response) == nil
}
