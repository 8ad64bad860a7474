package ap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	payloadschema "horse.fit/newswire/schema"

	"horse.fit/newswire/internal/httpfetch"
)

const DefaultBaseURL = "https://api.ap.org/media/v"

var ErrMissingCredentials = errors.New("ap: api key is not configured")

type Options struct {
	APIKey     string
	BaseURL    string
	RetryLimit int
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client

	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error
}

// Page is one page of feed or search results.
type Page struct {
	Items    []PageItem `json:"items"`
	NextPage string     `json:"next_page,omitempty"`
}

// PageItem wraps a content item inside a feed or search page.
type PageItem struct {
	Item payloadschema.ContentItem `json:"item"`
}

type pageEnvelope struct {
	Data Page `json:"data"`
}

// Client is an authenticated AP Media API client. Every request waits on the
// endpoint's rate window first and feeds quota headers back into it.
type Client struct {
	apiKey  string
	baseURL string
	limiter *RateLimiter
	fetcher *httpfetch.Client
	logger  zerolog.Logger
}

func NewClient(logger zerolog.Logger, opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingCredentials
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limiter := NewRateLimiter(logger, opts.Now, opts.Sleep)
	fetcher := httpfetch.New(logger, httpfetch.Options{
		RetryLimit: opts.RetryLimit,
		Timeout:    opts.Timeout,
		UserAgent:  opts.UserAgent,
		HTTPClient: opts.HTTPClient,
		OnSuccess:  limiter.RecordHeaders,
		Sleep:      opts.Sleep,
	})

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		limiter: limiter,
		fetcher: fetcher,
		logger:  logger,
	}, nil
}

func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// Feed fetches one page of the account's content feed.
func (c *Client) Feed(ctx context.Context, params url.Values) (Page, error) {
	return c.page(ctx, EndpointFeed, "feed", params)
}

// Search fetches one page of search results.
func (c *Client) Search(ctx context.Context, params url.Values) (Page, error) {
	return c.page(ctx, EndpointSearch, "search", params)
}

// Content fetches content/<path>. A nil body means the item is not accessible.
func (c *Client) Content(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.get(ctx, EndpointItem, strings.TrimLeft(path, "/"), params)
}

func (c *Client) page(ctx context.Context, endpoint Endpoint, path string, params url.Values) (Page, error) {
	body, err := c.get(ctx, endpoint, path, params)
	if err != nil {
		return Page{}, err
	}
	if body == nil {
		c.logger.Warn().
			Str("endpoint", string(endpoint)).
			Msg("page not accessible, treating as empty")
		return Page{}, nil
	}

	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, fmt.Errorf("decode %s page: %w", endpoint, err)
	}
	return envelope.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint Endpoint, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.CheckAndWait(ctx, endpoint); err != nil {
		return nil, err
	}

	query := cloneValues(params)
	query.Set("apikey", c.apiKey)

	body, err := c.fetcher.Fetch(ctx, c.baseURL+"/content/"+path, query)
	if err != nil {
		return nil, fmt.Errorf("fetch ap %s: %w", endpoint, err)
	}
	return body, nil
}

func cloneValues(params url.Values) url.Values {
	out := make(url.Values, len(params)+1)
	for key, values := range params {
		out[key] = append([]string(nil), values...)
	}
	return out
}

// QueryParams returns the query parameters of rawURL, or empty values when it cannot be parsed.
func QueryParams(rawURL string) url.Values {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return url.Values{}
	}
	query := parsed.Query()
	query.Del("apikey")
	return query
}
