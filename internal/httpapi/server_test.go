package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
)

type fakeStore struct {
	pingErr    error
	stories    []db.StorySummary
	details    map[int64]*db.StoryDetail
	aliases    map[string][]db.StorySummary
	lastList   db.StoryListOptions
	lastDay    time.Time
	listErr    error
	statsCalls int
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) QueryPipelineStats(_ context.Context, dayStart, _ time.Time) (*db.PipelineStats, error) {
	s.statsCalls++
	s.lastDay = dayStart
	return &db.PipelineStats{Day: dayStart.Format("2006-01-02"), Stories: int64(len(s.stories))}, nil
}

func (s *fakeStore) ListStories(_ context.Context, opts db.StoryListOptions) ([]db.StorySummary, error) {
	s.lastList = opts
	if s.listErr != nil {
		return nil, s.listErr
	}
	if opts.Limit < len(s.stories) {
		return s.stories[:opts.Limit], nil
	}
	return s.stories, nil
}

func (s *fakeStore) GetStoryDetail(_ context.Context, storiesID int64) (*db.StoryDetail, error) {
	detail, ok := s.details[storiesID]
	if !ok {
		return nil, db.ErrNoRows
	}
	return detail, nil
}

func (s *fakeStore) FindStoriesByURL(_ context.Context, rawURL string) ([]db.StorySummary, error) {
	return s.aliases[rawURL], nil
}

func newTestStore() *fakeStore {
	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	story := db.StorySummary{
		StoriesID:   7,
		MediaID:     1,
		MediaName:   "The Associated Press",
		URL:         "https://apnews.com/g1",
		GUID:        "g1",
		Title:       "Storm hits coast",
		Description: "Residents flee",
		PublishDate: published,
		CollectDate: published.Add(time.Hour),
	}
	return &fakeStore{
		stories: []db.StorySummary{story},
		details: map[int64]*db.StoryDetail{
			7: {Story: story, Aliases: []string{"https://apnews.com/alias"}},
		},
		aliases: map[string][]db.StorySummary{
			"https://apnews.com/alias": {story},
		},
	}
}

func serve(t *testing.T, store Store, target string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	srv := NewServer(store, zerolog.Nop(), Options{})
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body jsendResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, newTestStore(), "/api/v1/health")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected health response %d %+v", rec.Code, body)
	}

	down := newTestStore()
	down.pingErr = errors.New("connection refused")
	rec, body = serve(t, down, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable || body.Status != "error" || body.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 error, got %d %+v", rec.Code, body)
	}
	if body.Message != "Database unavailable" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestStories_FiltersAndValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	rec, body := serve(t, store, "/api/v1/stories?media=The+Associated+Press&since=2024-03-01&limit=5")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected response %d %+v", rec.Code, body)
	}
	if store.lastList.MediaName != "The Associated Press" || store.lastList.Limit != 5 || store.lastList.Since == nil {
		t.Fatalf("unexpected list options %+v", store.lastList)
	}

	rec, body = serve(t, store, "/api/v1/stories?limit=0")
	if rec.Code != http.StatusBadRequest || body.Status != "fail" {
		t.Fatalf("expected validation failure, got %d %+v", rec.Code, body)
	}

	rec, _ = serve(t, store, "/api/v1/stories?since=yesterday")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad since to fail, got %d", rec.Code)
	}

	failing := newTestStore()
	failing.listErr = errors.New("boom")
	rec, body = serve(t, failing, "/api/v1/stories")
	if rec.Code != http.StatusInternalServerError || body.Status != "error" {
		t.Fatalf("expected error envelope, got %d %+v", rec.Code, body)
	}
}

func TestStoryDetail(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, newTestStore(), "/api/v1/stories/7")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	data, _ := json.Marshal(body.Data)
	if !strings.Contains(string(data), "https://apnews.com/alias") {
		t.Fatalf("expected aliases in detail, got %s", data)
	}

	rec, _ = serve(t, newTestStore(), "/api/v1/stories/999")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec, _ = serve(t, newTestStore(), "/api/v1/stories/abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAliases(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, newTestStore(), "/api/v1/aliases?url=https://apnews.com/alias")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	data, _ := json.Marshal(body.Data)
	if !strings.Contains(string(data), `"stories_id":7`) {
		t.Fatalf("expected matched story, got %s", data)
	}

	rec, _ = serve(t, newTestStore(), "/api/v1/aliases")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected missing url to fail, got %d", rec.Code)
	}
}

func TestStats_DayParameter(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	rec, _ := serve(t, store, "/api/v1/stats?day=2024-03-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !store.lastDay.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day %s", store.lastDay)
	}

	rec, _ = serve(t, store, "/api/v1/stats?day=March")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad day to fail, got %d", rec.Code)
	}
}

func TestFeedXML(t *testing.T) {
	t.Parallel()

	rec, _ := serve(t, newTestStore(), "/feed.xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/rss+xml") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	out := rec.Body.String()
	for _, want := range []string{"<rss", "Storm hits coast", "https://apnews.com/g1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in feed:\n%s", want, out)
		}
	}
}
