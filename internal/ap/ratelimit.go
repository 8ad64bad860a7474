package ap

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/httpfetch"
)

// Endpoint names a rate-limited AP API endpoint.
type Endpoint string

const (
	EndpointFeed   Endpoint = "feed"
	EndpointSearch Endpoint = "search"
	EndpointItem   Endpoint = "item"
)

const (
	headerQuotaName        = "x-mediaapi-Q-name"
	headerQuotaUsed        = "x-mediaapi-Q-used"
	headerQuotaSecondsLeft = "x-mediaapi-Q-secondsLeft"
)

// RateWindow is the last quota the server reported for one endpoint.
type RateWindow struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RateLimiter tracks server-advertised quotas and blocks callers until a
// depleted window resets. An endpoint with no recorded window never blocks.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[Endpoint]RateWindow
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	logger  zerolog.Logger
}

func NewRateLimiter(logger zerolog.Logger, now func() time.Time, sleep func(context.Context, time.Duration) error) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = httpfetch.SleepContext
	}
	return &RateLimiter{
		windows: make(map[Endpoint]RateWindow, 3),
		now:     now,
		sleep:   sleep,
		logger:  logger,
	}
}

// CheckAndWait blocks while the endpoint's window is exhausted and not yet reset.
func (l *RateLimiter) CheckAndWait(ctx context.Context, endpoint Endpoint) error {
	l.mu.Lock()
	window, ok := l.windows[endpoint]
	now := l.now()
	l.mu.Unlock()

	if !ok || window.Remaining > 0 || !now.Before(window.ResetAt) {
		return nil
	}

	wait := time.Duration(math.Ceil(window.ResetAt.Sub(now).Seconds())) * time.Second
	l.logger.Info().
		Str("endpoint", string(endpoint)).
		Dur("wait", wait).
		Int("limit", window.Limit).
		Msg("rate limit exhausted, waiting for reset")
	return l.sleep(ctx, wait)
}

// RecordResponse stores the quota reported for endpoint.
func (l *RateLimiter) RecordResponse(endpoint Endpoint, used, limit, secondsLeft int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.windows[endpoint] = RateWindow{
		Remaining: limit - used,
		Limit:     limit,
		ResetAt:   l.now().Add(time.Duration(secondsLeft) * time.Second),
	}
}

// RecordHeaders applies the quota headers of a successful response. Responses
// without a complete, well-formed set of headers are ignored.
func (l *RateLimiter) RecordHeaders(header http.Header) {
	endpoint, used, limit, secondsLeft, ok := parseQuotaHeaders(header)
	if !ok {
		return
	}
	l.RecordResponse(endpoint, used, limit, secondsLeft)
}

// Window returns the recorded window for endpoint.
func (l *RateLimiter) Window(endpoint Endpoint) (RateWindow, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	window, ok := l.windows[endpoint]
	return window, ok
}

// Reset forgets every recorded window.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[Endpoint]RateWindow, 3)
}

func parseQuotaHeaders(header http.Header) (Endpoint, int, int, int, bool) {
	name := strings.TrimSpace(header.Get(headerQuotaName))
	usedRaw := strings.TrimSpace(header.Get(headerQuotaUsed))
	secondsRaw := strings.TrimSpace(header.Get(headerQuotaSecondsLeft))
	if name == "" || usedRaw == "" || secondsRaw == "" {
		return "", 0, 0, 0, false
	}

	usedPart, limitPart, found := strings.Cut(usedRaw, "/")
	if !found {
		return "", 0, 0, 0, false
	}
	used, err := strconv.Atoi(strings.TrimSpace(usedPart))
	if err != nil {
		return "", 0, 0, 0, false
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitPart))
	if err != nil {
		return "", 0, 0, 0, false
	}
	secondsLeft, err := strconv.Atoi(secondsRaw)
	if err != nil {
		return "", 0, 0, 0, false
	}

	return Endpoint(name), used, limit, secondsLeft, true
}
