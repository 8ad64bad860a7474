package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"horse.fit/newswire/internal/db"
)

// File is the media definition file accepted by seed-media.
type File struct {
	Media []Source `yaml:"media"`
}

type Source struct {
	Name              string `yaml:"name"`
	URL               string `yaml:"url"`
	FullTextRSS       *bool  `yaml:"full_text_rss"`
	ContentDelayHours *int   `yaml:"content_delay_hours"`
	ForeignRSSLinks   bool   `yaml:"foreign_rss_links"`
	Feeds             []Feed `yaml:"feeds"`
}

type Feed struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Type   string `yaml:"type"`
	Active *bool  `yaml:"active"`
}

// IsActive defaults to true when the file does not say otherwise.
func (f Feed) IsActive() bool {
	return f.Active == nil || *f.Active
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}
	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Parse decodes and validates a media file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse media yaml: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *File) Validate() error {
	if len(f.Media) == 0 {
		return fmt.Errorf("media file defines no media")
	}

	names := make(map[string]struct{}, len(f.Media))
	for i := range f.Media {
		m := &f.Media[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return fmt.Errorf("media[%d]: name is required", i)
		}
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("media[%d]: duplicate name %q", i, m.Name)
		}
		names[m.Name] = struct{}{}
		if err := validateURL(m.URL); err != nil {
			return fmt.Errorf("media %q: %w", m.Name, err)
		}
		if m.ContentDelayHours != nil && *m.ContentDelayHours < 0 {
			return fmt.Errorf("media %q: content_delay_hours must be >= 0", m.Name)
		}

		for j := range m.Feeds {
			feed := &m.Feeds[j]
			feed.Name = strings.TrimSpace(feed.Name)
			if feed.Name == "" {
				return fmt.Errorf("media %q feeds[%d]: name is required", m.Name, j)
			}
			if err := validateURL(feed.URL); err != nil {
				return fmt.Errorf("media %q feed %q: %w", m.Name, feed.Name, err)
			}
			switch strings.TrimSpace(feed.Type) {
			case "":
				feed.Type = db.FeedTypeSyndicated
			case db.FeedTypeSyndicated, db.FeedTypeWebPage:
			default:
				return fmt.Errorf("media %q feed %q: unsupported type %q", m.Name, feed.Name, feed.Type)
			}
		}
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("url %q must be absolute http(s)", raw)
	}
	return nil
}

// Store is implemented by *db.Pool.
type Store interface {
	UpsertMedium(ctx context.Context, medium db.Medium) (*db.Medium, error)
	FindOrCreateFeed(ctx context.Context, feed db.Feed) (*db.Feed, error)
	SetFeedActive(ctx context.Context, feedsID int64, active bool) error
}

type SeedSummary struct {
	Media int `json:"media"`
	Feeds int `json:"feeds"`
}

// Seed upserts every medium by name and finds or creates its feeds.
func Seed(ctx context.Context, store Store, file *File) (SeedSummary, error) {
	var summary SeedSummary
	for _, m := range file.Media {
		medium, err := store.UpsertMedium(ctx, db.Medium{
			Name:            m.Name,
			URL:             strings.TrimSpace(m.URL),
			FullTextRSS:     m.FullTextRSS,
			ContentDelay:    m.ContentDelayHours,
			ForeignRSSLinks: m.ForeignRSSLinks,
		})
		if err != nil {
			return summary, err
		}
		summary.Media++

		for _, f := range m.Feeds {
			feed, err := store.FindOrCreateFeed(ctx, db.Feed{
				MediaID: medium.MediaID,
				Name:    f.Name,
				URL:     strings.TrimSpace(f.URL),
				Type:    f.Type,
				Active:  f.IsActive(),
			})
			if err != nil {
				return summary, err
			}
			if feed.Active != f.IsActive() {
				if err := store.SetFeedActive(ctx, feed.FeedsID, f.IsActive()); err != nil {
					return summary, err
				}
			}
			summary.Feeds++
		}
	}
	return summary, nil
}
