// Package httpjson is the rate-limited JSON-over-HTTP client shared by the
// platform adapters.
package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/impact-crawler/internal/policy/retry"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "impact-crawler/1.0"
	maxBodyBytes     = 10 << 20
	maxErrorBytes    = 1 << 10
)

// Config configures a Client.
type Config struct {
	Platform          string
	BaseURL           string
	Token             string
	UserAgent         string
	Headers           map[string]string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// Retry governs repeats of transient failures (429, 5xx, timeouts). Nil
	// uses three attempts starting at 250ms.
	Retry *retry.Policy
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL        string
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http status %d: %s", e.URL, e.Code, e.Body)
}

// Temporary reports whether the upstream may succeed on a later attempt.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client issues GET requests against one upstream API. Every failure wraps
// impact.ErrFetch; an upstream 404 additionally wraps impact.ErrNotFound.
type Client struct {
	base      *url.URL
	http      *http.Client
	limiter   *ratelimit.Limiter
	retry     *retry.Policy
	token     string
	userAgent string
	headers   map[string]string
}

// New constructs a Client. A nil httpClient gets a default with cfg.Timeout;
// otherwise a positive cfg.Timeout is applied to a copy of httpClient.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("httpjson: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpjson: parse base url: %w", err)
	}
	switch {
	case httpClient == nil:
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	case cfg.Timeout > 0:
		// Shared clients keep their transport; the timeout is per platform.
		hc := *httpClient
		hc.Timeout = cfg.Timeout
		httpClient = &hc
	}
	policy := cfg.Retry
	if policy == nil {
		policy = retry.New(0, 0, 0)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		base: base,
		http: httpClient,
		limiter: ratelimit.New(ratelimit.Config{
			Platform:          cfg.Platform,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}),
		retry:     policy,
		token:     cfg.Token,
		userAgent: ua,
		headers:   cfg.Headers,
	}, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.base.String() }

// GetJSON fetches path (relative to the base URL) with query and decodes the
// JSON body into out. Transient failures are retried per the client's policy.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	target := u.String()

	for attempt := 1; ; attempt++ {
		err := c.get(ctx, target, out)
		if err == nil {
			return nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			if attempt > 1 && attempt >= c.retry.MaxAttempts() {
				return fmt.Errorf("%w (gave up after %d attempts)", err, attempt)
			}
			return err
		}
		wait := c.retry.Backoff(attempt - 1)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
			wait = min(statusErr.RetryAfter, c.retry.MaxDelay())
		}
		if sleepErr := retry.Sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("%w: %w", err, sleepErr)
		}
	}
}

func (c *Client) get(ctx context.Context, target string, out any) error {
	if err := c.limiter.Wait(ctx, target); err != nil {
		return fmt.Errorf("%w: %w", impact.ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", impact.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", impact.ErrFetch, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		statusErr := &StatusError{
			URL:        target,
			Code:       resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w: %w", impact.ErrFetch, impact.ErrNotFound, statusErr)
		}
		return fmt.Errorf("%w: %w", impact.ErrFetch, statusErr)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", impact.ErrFetch, target, err)
	}
	return nil
}

// retryAfter parses the delay-seconds form of Retry-After.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// CheckKey rejects entity keys that cannot be used as a single path segment.
func CheckKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, "/?#") {
		return fmt.Errorf("%w: invalid identifier %q", impact.ErrFetch, key)
	}
	return nil
}
