package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// StoryColumns is the column list ScanStory expects.
const StoryColumns = `stories_id, media_id, url, guid, title, normalized_title_hash::text, description, publish_date, collect_date, full_text_rss, language`

// ScanStory scans one row selected with StoryColumns.
func ScanStory(row interface{ Scan(dest ...any) error }, s *Story) error {
	return row.Scan(
		&s.StoriesID,
		&s.MediaID,
		&s.URL,
		&s.GUID,
		&s.Title,
		&s.NormalizedTitleHash,
		&s.Description,
		&s.PublishDate,
		&s.CollectDate,
		&s.FullTextRSS,
		&s.Language,
	)
}

// StorySummary is a read model used by the list endpoints and the RSS export.
type StorySummary struct {
	StoriesID   int64     `json:"stories_id"`
	MediaID     int64     `json:"media_id"`
	MediaName   string    `json:"media_name"`
	URL         string    `json:"url"`
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishDate time.Time `json:"publish_date"`
	CollectDate time.Time `json:"collect_date"`
	Language    *string   `json:"language,omitempty"`
}

// StoryListOptions controls ListStories.
type StoryListOptions struct {
	MediaName string
	Since     *time.Time
	Limit     int
}

// StoryDetail contains one story with its aliases, feeds and downloads.
type StoryDetail struct {
	Story     StorySummary      `json:"story"`
	Aliases   []string          `json:"aliases"`
	Feeds     []StoryDetailFeed `json:"feeds"`
	Downloads []StoryDownload   `json:"downloads"`
}

type StoryDetailFeed struct {
	FeedsID int64  `json:"feeds_id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

type StoryDownload struct {
	DownloadsID  int64     `json:"downloads_id"`
	State        string    `json:"state"`
	Type         string    `json:"type"`
	DownloadTime time.Time `json:"download_time"`
	TextLength   *int      `json:"text_length,omitempty"`
}

const summaryQueryPrefix = `
SELECT
	s.stories_id,
	s.media_id,
	m.name,
	s.url,
	s.guid,
	s.title,
	s.description,
	s.publish_date,
	s.collect_date,
	s.language
FROM newswire.stories s
JOIN newswire.media m
	ON m.media_id = s.media_id
`

func scanSummary(row interface{ Scan(dest ...any) error }, out *StorySummary) error {
	return row.Scan(
		&out.StoriesID,
		&out.MediaID,
		&out.MediaName,
		&out.URL,
		&out.GUID,
		&out.Title,
		&out.Description,
		&out.PublishDate,
		&out.CollectDate,
		&out.Language,
	)
}

// ListStories lists the most recently published stories, newest first.
func (p *Pool) ListStories(ctx context.Context, opts StoryListOptions) ([]StorySummary, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	var since any
	if opts.Since != nil {
		since = opts.Since.UTC()
	}

	q := summaryQueryPrefix + `
WHERE ($1 = '' OR m.name = $1)
  AND ($2::timestamptz IS NULL OR s.publish_date >= $2::timestamptz)
ORDER BY s.publish_date DESC, s.stories_id DESC
LIMIT $3
`
	rows, err := p.Query(ctx, q, strings.TrimSpace(opts.MediaName), since, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	out := make([]StorySummary, 0, opts.Limit)
	for rows.Next() {
		var item StorySummary
		if err := scanSummary(rows, &item); err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story rows: %w", err)
	}
	return out, nil
}

// GetStoryDetail loads a story with its alias URLs, linked feeds and downloads.
func (p *Pool) GetStoryDetail(ctx context.Context, storiesID int64) (*StoryDetail, error) {
	if storiesID <= 0 {
		return nil, fmt.Errorf("stories_id must be > 0")
	}

	detail := &StoryDetail{
		Aliases:   make([]string, 0, 4),
		Feeds:     make([]StoryDetailFeed, 0, 2),
		Downloads: make([]StoryDownload, 0, 2),
	}
	if err := scanSummary(p.QueryRow(ctx, summaryQueryPrefix+`WHERE s.stories_id = $1`, storiesID), &detail.Story); err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("load story %d: %w", storiesID, err)
	}

	aliasRows, err := p.Query(ctx, `SELECT url FROM newswire.story_urls WHERE stories_id = $1 ORDER BY story_urls_id`, storiesID)
	if err != nil {
		return nil, fmt.Errorf("query story aliases: %w", err)
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var alias string
		if err := aliasRows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("scan story alias: %w", err)
		}
		detail.Aliases = append(detail.Aliases, alias)
	}
	if err := aliasRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story aliases: %w", err)
	}

	const feedsQuery = `
SELECT f.feeds_id, f.name, f.url
FROM newswire.feeds_stories_map fsm
JOIN newswire.feeds f
	ON f.feeds_id = fsm.feeds_id
WHERE fsm.stories_id = $1
ORDER BY f.feeds_id
`
	feedRows, err := p.Query(ctx, feedsQuery, storiesID)
	if err != nil {
		return nil, fmt.Errorf("query story feeds: %w", err)
	}
	defer feedRows.Close()
	for feedRows.Next() {
		var f StoryDetailFeed
		if err := feedRows.Scan(&f.FeedsID, &f.Name, &f.URL); err != nil {
			return nil, fmt.Errorf("scan story feed: %w", err)
		}
		detail.Feeds = append(detail.Feeds, f)
	}
	if err := feedRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story feeds: %w", err)
	}

	const downloadsQuery = `
SELECT d.downloads_id, d.state, d.type, d.download_time, dt.download_text_length
FROM newswire.downloads d
LEFT JOIN newswire.download_texts dt
	ON dt.downloads_id = d.downloads_id
WHERE d.stories_id = $1
ORDER BY d.downloads_id
`
	downloadRows, err := p.Query(ctx, downloadsQuery, storiesID)
	if err != nil {
		return nil, fmt.Errorf("query story downloads: %w", err)
	}
	defer downloadRows.Close()
	for downloadRows.Next() {
		var d StoryDownload
		if err := downloadRows.Scan(&d.DownloadsID, &d.State, &d.Type, &d.DownloadTime, &d.TextLength); err != nil {
			return nil, fmt.Errorf("scan story download: %w", err)
		}
		detail.Downloads = append(detail.Downloads, d)
	}
	if err := downloadRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story downloads: %w", err)
	}

	return detail, nil
}

// FindStoriesByURL returns stories whose canonical url or any recorded alias equals rawURL.
func (p *Pool) FindStoriesByURL(ctx context.Context, rawURL string) ([]StorySummary, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return nil, fmt.Errorf("url is required")
	}

	q := summaryQueryPrefix + `
LEFT JOIN newswire.story_urls su
	ON su.stories_id = s.stories_id
	AND su.url = $1
WHERE s.url = $1
   OR s.guid = $1
   OR su.story_urls_id IS NOT NULL
GROUP BY s.stories_id, m.name
ORDER BY s.publish_date DESC, s.stories_id DESC
`
	rows, err := p.Query(ctx, q, target)
	if err != nil {
		return nil, fmt.Errorf("query stories by url: %w", err)
	}
	defer rows.Close()

	out := make([]StorySummary, 0, 2)
	for rows.Next() {
		var item StorySummary
		if err := scanSummary(rows, &item); err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story rows: %w", err)
	}
	return out, nil
}

// StoryGUIDExists reports whether the named medium already holds a story with guid.
func (p *Pool) StoryGUIDExists(ctx context.Context, mediumName, guid string) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1
	FROM newswire.stories s
	JOIN newswire.media m
		ON m.media_id = s.media_id
	WHERE m.name = $1
	  AND s.guid = $2
)
`
	var exists bool
	if err := p.QueryRow(ctx, q, mediumName, guid).Scan(&exists); err != nil {
		return false, fmt.Errorf("check story guid %q: %w", guid, err)
	}
	return exists, nil
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
