package media

import (
	"context"
	"strings"
	"testing"

	"horse.fit/newswire/internal/db"
)

const sampleFile = `
media:
  - name: The Associated Press
    url: http://apnews.com
    full_text_rss: true
  - name: Daily Planet
    url: https://planet.example.com
    content_delay_hours: 2
    feeds:
      - name: Front page
        url: https://planet.example.com/rss
      - name: Archive
        url: https://planet.example.com/archive
        type: web_page
        active: false
`

func TestParse(t *testing.T) {
	t.Parallel()

	file, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(file.Media) != 2 {
		t.Fatalf("expected 2 media, got %d", len(file.Media))
	}
	planet := file.Media[1]
	if planet.ContentDelayHours == nil || *planet.ContentDelayHours != 2 {
		t.Fatalf("expected content delay 2, got %v", planet.ContentDelayHours)
	}
	if planet.Feeds[0].Type != db.FeedTypeSyndicated || !planet.Feeds[0].IsActive() {
		t.Fatalf("expected syndicated active default, got %+v", planet.Feeds[0])
	}
	if planet.Feeds[1].IsActive() {
		t.Fatalf("expected archive feed inactive")
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":          ``,
		"unknown key":    "media:\n  - name: A\n    url: http://a.example.com\n    colour: red\n",
		"missing name":   "media:\n  - url: http://a.example.com\n",
		"duplicate name": "media:\n  - name: A\n    url: http://a.example.com\n  - name: A\n    url: http://b.example.com\n",
		"relative url":   "media:\n  - name: A\n    url: /news\n",
		"bad feed type":  "media:\n  - name: A\n    url: http://a.example.com\n    feeds:\n      - name: F\n        url: http://a.example.com/rss\n        type: podcast\n",
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

type memoryStore struct {
	media  map[string]*db.Medium
	feeds  map[string]*db.Feed
	nextID int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{media: map[string]*db.Medium{}, feeds: map[string]*db.Feed{}}
}

func (s *memoryStore) UpsertMedium(_ context.Context, m db.Medium) (*db.Medium, error) {
	if existing, ok := s.media[m.Name]; ok {
		m.MediaID = existing.MediaID
	} else {
		s.nextID++
		m.MediaID = s.nextID
	}
	s.media[m.Name] = &m
	return &m, nil
}

func (s *memoryStore) FindOrCreateFeed(_ context.Context, f db.Feed) (*db.Feed, error) {
	key := strings.Join([]string{f.Name, f.URL}, "|")
	if existing, ok := s.feeds[key]; ok {
		copied := *existing
		return &copied, nil
	}
	s.nextID++
	f.FeedsID = s.nextID
	s.feeds[key] = &f
	copied := f
	return &copied, nil
}

func (s *memoryStore) SetFeedActive(_ context.Context, feedsID int64, active bool) error {
	for _, f := range s.feeds {
		if f.FeedsID == feedsID {
			f.Active = active
		}
	}
	return nil
}

func TestSeed_IsRepeatableAndTogglesActive(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	file, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	summary, err := Seed(context.Background(), store, file)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if summary.Media != 2 || summary.Feeds != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	inactive := false
	file.Media[1].Feeds[0].Active = &inactive
	if _, err := Seed(context.Background(), store, file); err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}
	if len(store.media) != 2 || len(store.feeds) != 2 {
		t.Fatalf("expected no duplicates, got %d media %d feeds", len(store.media), len(store.feeds))
	}
	if store.feeds["Front page|https://planet.example.com/rss"].Active {
		t.Fatalf("expected front page feed to be deactivated")
	}
	if store.media["Daily Planet"].ContentDelay == nil || *store.media["Daily Planet"].ContentDelay != 2 {
		t.Fatalf("expected content delay to be stored")
	}
}
