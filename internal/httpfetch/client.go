package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRetryLimit = 5
	DefaultTimeout    = 30 * time.Second
	DefaultUserAgent  = "newswire/1.0"

	DefaultMaxBodyBytes = 32 << 20
)

// ErrBodyTooLarge is returned when a response body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("response body too large")

// FetchError reports a URL that could not be fetched within the retry budget.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts", e.URL, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Options struct {
	RetryLimit int
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	// MaxBodyBytes caps response bodies; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// OnSuccess receives the headers of every 200 response.
	OnSuccess func(http.Header)
	// Sleep replaces the backoff timer; nil waits on a real timer.
	Sleep func(context.Context, time.Duration) error
}

// Client performs GET requests with quadratic backoff between failed attempts.
// A 403 response is reported as (nil, nil) and never retried.
type Client struct {
	http       *http.Client
	retryLimit int
	maxBody    int64
	userAgent  string
	onSuccess  func(http.Header)
	sleep      func(context.Context, time.Duration) error
	logger     zerolog.Logger
}

func New(logger zerolog.Logger, opts Options) *Client {
	retryLimit := opts.RetryLimit
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &Client{
		http:       httpClient,
		retryLimit: retryLimit,
		maxBody:    maxBody,
		userAgent:  userAgent,
		onSuccess:  opts.OnSuccess,
		sleep:      sleep,
		logger:     logger,
	}
}

// Fetch GETs rawURL with params merged into its query string.
func (c *Client) Fetch(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	target, err := BuildURL(rawURL, params)
	if err != nil {
		return nil, err
	}
	logURL := RedactURL(target)

	var lastErr error
	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		body, status, header, err := c.do(ctx, target)
		switch {
		case errors.Is(err, ErrBodyTooLarge):
			return nil, &FetchError{URL: logURL, Attempts: attempt, Err: err}
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			c.logger.Warn().
				Err(err).
				Str("url", logURL).
				Int("attempt", attempt).
				Msg("request failed")
		case status == http.StatusOK:
			if c.onSuccess != nil {
				c.onSuccess(header)
			}
			return body, nil
		case status == http.StatusForbidden:
			c.logger.Warn().
				Str("url", logURL).
				Msg("access forbidden, skipping")
			return nil, nil
		default:
			lastErr = fmt.Errorf("unexpected status %d", status)
			c.logger.Warn().
				Str("url", logURL).
				Int("status", status).
				Int("attempt", attempt).
				Msg("request returned non-200 status")
		}

		if attempt == c.retryLimit {
			break
		}

		wait := Backoff(attempt)
		c.logger.Info().
			Str("url", logURL).
			Dur("wait", wait).
			Msg("backing off before retry")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, &FetchError{URL: logURL, Attempts: c.retryLimit, Err: lastErr}
}

func (c *Client) do(ctx context.Context, target string) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.maxBody)
	}
	return body, resp.StatusCode, resp.Header, nil
}

// Backoff is the wait after the given failed attempt: 1s, 4s, 9s, ...
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt*attempt) * time.Second
}

// BuildURL merges params into the query of rawURL; params win over existing keys.
func BuildURL(rawURL string, params url.Values) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", rawURL)
	}
	if len(params) == 0 {
		return parsed.String(), nil
	}

	query := parsed.Query()
	for key, values := range params {
		query.Del(key)
		for _, value := range values {
			query.Add(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// RedactURL hides credentials carried in the query string.
func RedactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	if query.Get("apikey") == "" {
		return rawURL
	}
	query.Set("apikey", "REDACTED")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsFetchError reports whether err wraps a *FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}
