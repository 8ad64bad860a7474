package ap

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(clock *fakeClock) *RateLimiter {
	return NewRateLimiter(zerolog.Nop(), clock.Now, clock.Sleep)
}

func TestRateLimiter_UnknownEndpointNeverBlocks(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(clock)

	if err := limiter.CheckAndWait(context.Background(), EndpointFeed); err != nil {
		t.Fatalf("CheckAndWait() error = %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("expected no wait, got %v", clock.sleeps)
	}
}

func TestRateLimiter_ExhaustedWindowWaitsUntilReset(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(clock)

	limiter.RecordResponse(EndpointItem, 100, 100, 30)
	if err := limiter.CheckAndWait(context.Background(), EndpointItem); err != nil {
		t.Fatalf("CheckAndWait() error = %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 30*time.Second {
		t.Fatalf("expected one 30s wait, got %v", clock.sleeps)
	}

	// the window has reset once the clock passes resetAt
	if err := limiter.CheckAndWait(context.Background(), EndpointItem); err != nil {
		t.Fatalf("CheckAndWait() error = %v", err)
	}
	if len(clock.sleeps) != 1 {
		t.Fatalf("expected no further wait after reset, got %v", clock.sleeps)
	}
}

func TestRateLimiter_RemainingQuotaDoesNotBlock(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(clock)

	limiter.RecordResponse(EndpointSearch, 10, 100, 60)
	if err := limiter.CheckAndWait(context.Background(), EndpointSearch); err != nil {
		t.Fatalf("CheckAndWait() error = %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("expected no wait, got %v", clock.sleeps)
	}

	window, ok := limiter.Window(EndpointSearch)
	if !ok {
		t.Fatalf("expected search window to be recorded")
	}
	if window.Remaining != 90 || window.Limit != 100 {
		t.Fatalf("unexpected window: %+v", window)
	}
	if !window.ResetAt.Equal(clock.now.Add(60 * time.Second)) {
		t.Fatalf("unexpected reset time: %s", window.ResetAt)
	}
}

func TestRateLimiter_RecordHeaders(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(clock)

	header := http.Header{}
	header.Set("x-mediaapi-Q-name", "feed")
	header.Set("x-mediaapi-Q-used", "5/10")
	header.Set("x-mediaapi-Q-secondsLeft", "42")
	limiter.RecordHeaders(header)

	window, ok := limiter.Window(EndpointFeed)
	if !ok {
		t.Fatalf("expected feed window to be recorded")
	}
	if window.Remaining != 5 || window.Limit != 10 {
		t.Fatalf("unexpected window: %+v", window)
	}
	if !window.ResetAt.Equal(clock.now.Add(42 * time.Second)) {
		t.Fatalf("unexpected reset time: %s", window.ResetAt)
	}
}

func TestRateLimiter_MalformedHeadersIgnored(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(clock)

	cases := []http.Header{
		{},
		{"X-Mediaapi-Q-Name": {"feed"}},
		{"X-Mediaapi-Q-Name": {"feed"}, "X-Mediaapi-Q-Used": {"5"}, "X-Mediaapi-Q-Secondsleft": {"10"}},
		{"X-Mediaapi-Q-Name": {"feed"}, "X-Mediaapi-Q-Used": {"a/10"}, "X-Mediaapi-Q-Secondsleft": {"10"}},
		{"X-Mediaapi-Q-Name": {"feed"}, "X-Mediaapi-Q-Used": {"5/10"}, "X-Mediaapi-Q-Secondsleft": {"soon"}},
	}
	for _, header := range cases {
		limiter.RecordHeaders(header)
	}

	if _, ok := limiter.Window(EndpointFeed); ok {
		t.Fatalf("expected malformed headers to leave no window")
	}
}

func TestRateLimiter_ResetForgetsWindows(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(clock)

	limiter.RecordResponse(EndpointFeed, 10, 10, 60)
	limiter.Reset()

	if _, ok := limiter.Window(EndpointFeed); ok {
		t.Fatalf("expected reset to forget windows")
	}
}
